package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/agent"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/board"
)

// maxMemories caps the /api/memories listing.
const maxMemories = 100

// ReviewMessage is sent to the users when a task is moved to Review from the
// dashboard.
func ReviewMessage(title string) string {
	return fmt.Sprintf("🚀 *Task Review Ready (via Dashboard):*\n%s\n\nBitte werfe einen Blick darauf!", title)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type activeTask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type statusResponse struct {
	agent.State
	ActiveTask *activeTask            `json:"activeTask"`
	Users      map[string]agent.State `json:"users,omitempty"`
	Canvas     int                    `json:"canvasClients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{State: agent.State{Status: agent.StatusOnline}}
	if s.deps.Status != nil {
		resp.State = s.deps.Status.Overall()
		resp.Users = s.deps.Status.Snapshot()
	}
	if s.deps.Canvas != nil {
		resp.Canvas = s.deps.Canvas.Count()
	}

	tasks, err := s.deps.Board.All(r.Context())
	if err != nil {
		s.logger.Error("reading tasks for status", "error", err)
		Error(w, http.StatusInternalServerError, "Could not read status.")
		return
	}
	for _, t := range tasks {
		if t.Status == board.StatusInProgress {
			resp.ActiveTask = &activeTask{ID: t.ID, Title: t.Title}
			break
		}
	}
	JSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetNotepad(w http.ResponseWriter, r *http.Request) {
	note, err := s.deps.Notepad.Read()
	if err != nil {
		s.logger.Error("reading notepad", "error", err)
		Error(w, http.StatusInternalServerError, "Could not read notepad.")
		return
	}
	if note.TS == "" {
		JSON(w, http.StatusOK, map[string]any{"text": board.EmptyNotepad, "ts": nil})
		return
	}
	JSON(w, http.StatusOK, note)
}

func (s *Server) handlePutNotepad(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text *string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == nil {
		Error(w, http.StatusBadRequest, "Missing 'text' field in body.")
		return
	}
	note, err := s.deps.Notepad.Write(*body.Text)
	if err != nil {
		s.logger.Error("writing notepad", "error", err)
		Error(w, http.StatusInternalServerError, "Could not update notepad.")
		return
	}
	s.logger.Info("notepad updated from dashboard", "chars", len(note.Text))
	JSON(w, http.StatusOK, map[string]any{"success": true, "data": note})
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	type fact struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	out := []fact{}
	if s.deps.Facts != nil {
		facts, err := s.deps.Facts.List(r.Context())
		if err != nil {
			s.logger.Error("reading facts", "error", err)
			Error(w, http.StatusInternalServerError, "Could not read facts.")
			return
		}
		for _, f := range facts {
			out = append(out, fact{Key: f.Key, Value: f.Value})
		}
	}
	JSON(w, http.StatusOK, out)
}

// handleMemories lists the newest episodes without their embeddings.
func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	type memory struct {
		ID        string    `json:"id"`
		Summary   string    `json:"summary"`
		CreatedAt time.Time `json:"createdAt"`
		UserID    string    `json:"userId"`
	}
	out := []memory{}
	if s.deps.Episodes != nil {
		eps, err := s.deps.Episodes.All(r.Context())
		if err != nil {
			s.logger.Error("reading memories", "error", err)
			Error(w, http.StatusInternalServerError, "Could not read memories.")
			return
		}
		for i := len(eps) - 1; i >= 0 && len(out) < maxMemories; i-- {
			ep := eps[i]
			out = append(out, memory{ID: ep.ID, Summary: ep.Summary, CreatedAt: ep.CreatedAt, UserID: ep.UserID})
		}
	}
	JSON(w, http.StatusOK, out)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.deps.Board.All(r.Context())
	if err != nil {
		s.logger.Error("reading tasks", "error", err)
		Error(w, http.StatusInternalServerError, "Could not read tasks.")
		return
	}
	if tasks == nil {
		tasks = []board.Task{}
	}
	JSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		board.NewTask
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		Error(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if body.Title == "" {
		Error(w, http.StatusBadRequest, "Missing required field: title")
		return
	}
	if body.Status != "" && !board.ValidStatus(body.Status) {
		Error(w, http.StatusBadRequest, fmt.Sprintf("Invalid status %q.", body.Status))
		return
	}

	task, err := s.deps.Board.Create(r.Context(), body.NewTask)
	if err != nil {
		s.logger.Error("creating task", "error", err)
		Error(w, http.StatusInternalServerError, "Could not create task.")
		return
	}
	if body.Status != "" && body.Status != task.Status {
		updated, err := s.deps.Board.Update(r.Context(), task.ID, board.TaskPatch{Status: &body.Status})
		if err != nil {
			s.logger.Error("setting initial task status", "id", task.ID, "error", err)
			Error(w, http.StatusInternalServerError, "Could not create task.")
			return
		}
		task = updated
	}
	JSON(w, http.StatusCreated, map[string]any{"success": true, "id": task.ID, "task": task})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch board.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		Error(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}

	task, err := s.deps.Board.Update(r.Context(), id, patch)
	switch {
	case errors.Is(err, board.ErrTaskNotFound):
		Error(w, http.StatusNotFound, "Task not found.")
		return
	case errors.Is(err, board.ErrInvalidStatus):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("updating task", "id", id, "error", err)
		Error(w, http.StatusInternalServerError, "Could not update task.")
		return
	}

	if patch.Status != nil && *patch.Status == board.StatusReview && s.deps.Notifier != nil {
		if err := s.deps.Notifier.Notify(r.Context(), ReviewMessage(task.Title)); err != nil {
			s.logger.Warn("review notification failed", "id", id, "error", err)
		}
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "id": id, "task": task})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.deps.Board.Delete(r.Context(), id)
	switch {
	case errors.Is(err, board.ErrTaskNotFound):
		Error(w, http.StatusNotFound, "Task not found.")
		return
	case err != nil:
		s.logger.Error("deleting task", "id", id, "error", err)
		Error(w, http.StatusInternalServerError, "Could not delete task.")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}
