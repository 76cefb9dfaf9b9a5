// Package msstest provides an in-process fake of the MSST processing API for
// tests.
package msstest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/ncobase/msst/msst"
)

// Task is the scripted server side state of one task.
type Task struct {
	// Statuses are served in order by GET /status; the last one repeats.
	Statuses []msst.TaskStatus
	// Files maps result filename to content. Missing names answer 404.
	Files map[string][]byte

	polls     int
	downloads map[string]int
	cleanups  int
}

// Submission records one accepted submit call.
type Submission struct {
	Endpoint     string
	TaskID       string
	PresetName   string
	OutputFormat string
	CallbackURL  string
	FileName     string
	FileBytes    int
	DownloadURL  string
	UploadURLs   map[string]string
	EcloudKey    string
}

// Server is a fake processing API.
type Server struct {
	*httptest.Server

	// AssignID, when set, replaces the task id sent by the client.
	AssignID func(sent string) string
	// SubmitStatus, when non-zero, fails every submission with SubmitBody.
	SubmitStatus int
	SubmitBody   string
	// CleanupStatus, when non-zero, fails every cleanup.
	CleanupStatus int

	mu          sync.Mutex
	tasks       map[string]*Task
	submissions []Submission
}

// NewServer starts a fake processing API. Callers close it.
func NewServer() *Server {
	s := &Server{tasks: map[string]*Task{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /process_lightweight", s.handleJSONSubmit)
	mux.HandleFunc("POST /process_ecloud", s.handleJSONSubmit)
	mux.HandleFunc("GET /status/{id}", s.handleStatus)
	mux.HandleFunc("GET /results/{id}", s.handleResults)
	mux.HandleFunc("GET /download/{id}/{file}", s.handleDownload)
	mux.HandleFunc("DELETE /task/{id}", s.handleCleanup)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "version": "2.0"})
	})

	s.Server = httptest.NewServer(mux)
	return s
}

// AddTask scripts the server side state of id.
func (s *Server) AddTask(id string, t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.downloads == nil {
		t.downloads = map[string]int{}
	}
	s.tasks[id] = t
}

// SetFile replaces the content of one result of id.
func (s *Server) SetFile(id, filename string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		if t.Files == nil {
			t.Files = map[string][]byte{}
		}
		t.Files[filename] = data
	}
}

// DownloadURL returns the server download URL of a result.
func (s *Server) DownloadURL(id, filename string) string {
	return s.URL + "/download/" + id + "/" + filename
}

// Submissions returns the recorded submissions.
func (s *Server) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Submission(nil), s.submissions...)
}

// Polls returns the number of status queries for id.
func (s *Server) Polls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.polls
	}
	return 0
}

// Downloads returns the number of download attempts of filename in id.
func (s *Server) Downloads(id, filename string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.downloads[filename]
	}
	return 0
}

// TotalDownloads returns the number of download attempts for id.
func (s *Server) TotalDownloads(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	if t, ok := s.tasks[id]; ok {
		for _, c := range t.downloads {
			n += c
		}
	}
	return n
}

// Cleanups returns the number of cleanup calls for id.
func (s *Server) Cleanups(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.cleanups
	}
	return 0
}

func (s *Server) accept(w http.ResponseWriter, sub Submission) {
	if s.SubmitStatus != 0 {
		w.WriteHeader(s.SubmitStatus)
		_, _ = io.WriteString(w, s.SubmitBody)
		return
	}

	id := sub.TaskID
	if s.AssignID != nil {
		id = s.AssignID(id)
	}

	s.mu.Lock()
	s.submissions = append(s.submissions, sub)
	if _, ok := s.tasks[id]; !ok {
		s.tasks[id] = &Task{
			Statuses:  []msst.TaskStatus{{TaskID: id, State: msst.StateProcessing}},
			downloads: map[string]int{},
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"task_id": id,
		"status":  "accepted",
		"message": "Task accepted, processing in background",
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sub := Submission{
		Endpoint:     "upload",
		TaskID:       r.FormValue("task_id"),
		PresetName:   r.FormValue("preset_name"),
		OutputFormat: r.FormValue("output_format"),
		CallbackURL:  r.FormValue("callback_url"),
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "file is required"})
		return
	}
	defer f.Close()
	n, _ := io.Copy(io.Discard, f)
	sub.FileName = hdr.Filename
	sub.FileBytes = int(n)

	s.accept(w, sub)
}

func (s *Server) handleJSONSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskID       string            `json:"task_id"`
		PresetName   string            `json:"preset_name"`
		OutputFormat string            `json:"output_format"`
		CallbackURL  string            `json:"callback_url"`
		DownloadURL  string            `json:"download_url"`
		UploadURLs   map[string]string `json:"upload_urls"`
		EcloudKey    string            `json:"ecloud_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	s.accept(w, Submission{
		Endpoint:     r.URL.Path[1:],
		TaskID:       body.TaskID,
		PresetName:   body.PresetName,
		OutputFormat: body.OutputFormat,
		CallbackURL:  body.CallbackURL,
		DownloadURL:  body.DownloadURL,
		UploadURLs:   body.UploadURLs,
		EcloudKey:    body.EcloudKey,
	})
}

func (s *Server) task(w http.ResponseWriter, r *http.Request) (*Task, bool) {
	t, ok := s.tasks[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Task not found"})
	}
	return t, ok
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.task(w, r)
	if !ok {
		return
	}

	i := t.polls
	if i >= len(t.Statuses) {
		i = len(t.Statuses) - 1
	}
	t.polls++
	writeJSON(w, http.StatusOK, t.Statuses[i])
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.task(w, r)
	if !ok {
		return
	}

	last := t.Statuses[len(t.Statuses)-1]
	if last.State != msst.StateCompleted {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Task not completed yet"})
		return
	}
	id := r.PathValue("id")
	urls := make([]string, 0, len(last.Results))
	for _, res := range last.Results {
		urls = append(urls, s.DownloadURL(id, msst.Basename(res)))
	}
	writeJSON(w, http.StatusOK, msst.ResultList{TaskID: id, Results: last.Results, DownloadURLs: urls})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	t, ok := s.task(w, r)
	if !ok {
		s.mu.Unlock()
		return
	}
	name := r.PathValue("file")
	t.downloads[name]++
	data, found := t.Files[name]
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "File not found"})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := r.PathValue("id")
	if t, ok := s.tasks[id]; ok {
		t.cleanups++
	}
	if s.CleanupStatus != 0 {
		writeJSON(w, s.CleanupStatus, map[string]string{"detail": "cleanup failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task " + id + " cleaned up successfully"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
