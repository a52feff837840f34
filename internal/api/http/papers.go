package http

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-classroom/internal/aigateway"
	auth "github.com/mind-engage/mindengage-classroom/internal/auth/middleware"
	"github.com/mind-engage/mindengage-classroom/internal/classroom"
	"github.com/mind-engage/mindengage-classroom/internal/storage"
)

// GeneratePaperHandler asks the AI service for a paper, drops repeated
// questions and stores the result.
func GeneratePaperHandler(ai *aigateway.Client, papers classroom.PaperStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req aigateway.GeneratePaperRequest
		if !decodeValid(w, r, &req) {
			return
		}
		p, err := ai.GeneratePaper(r.Context(), req)
		if err != nil {
			respondGatewayError(w, err)
			return
		}
		p.Questions = classroom.DedupeQuestions(p.Questions)
		p.SumMarks()
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Title == "" {
			p.Title = req.Subject
		}
		p.CreatedAt = time.Now().UTC()
		if err := papers.PutPaper(r.Context(), p); err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, p)
	}
}

func ListPapersHandler(papers classroom.PaperStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := papers.ListPapers(r.Context(), parseIntDefault(r.URL.Query().Get("limit"), 50))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if list == nil {
			list = []classroom.Paper{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"papers": list})
	}
}

// GetPaperHandler hides answer keys from students. Papers created before
// this service stored them are fetched from the AI service once and kept.
func GetPaperHandler(ai *aigateway.Client, papers classroom.PaperStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		p, err := papers.GetPaper(r.Context(), id)
		if errors.Is(err, classroom.ErrNotFound) && ai != nil {
			var ge *aigateway.Error
			p, err = importPaper(r, ai, papers, id)
			if errors.As(err, &ge) {
				if ge.Status == http.StatusNotFound {
					respondError(w, http.StatusNotFound, "not found")
					return
				}
				respondGatewayError(w, err)
				return
			}
		}
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if !auth.FromContext(r.Context()).IsTeacher() {
			p = p.ForStudent()
		}
		respondJSON(w, http.StatusOK, p)
	}
}

func importPaper(r *http.Request, ai *aigateway.Client, papers classroom.PaperStore, id string) (classroom.Paper, error) {
	p, err := ai.GetPaper(r.Context(), id)
	if err != nil {
		return classroom.Paper{}, err
	}
	if p.ID == "" {
		p.ID = id
	}
	if p.TotalMarks == 0 {
		p.SumMarks()
	}
	p.CreatedAt = time.Now().UTC()
	if err := papers.PutPaper(r.Context(), p); err != nil {
		return classroom.Paper{}, err
	}
	return p, nil
}

// DownloadPaperHandler serves the paper PDF from the blob cache, fetching
// it from the AI service on a miss. Downloading locks the paper.
func DownloadPaperHandler(ai *aigateway.Client, papers classroom.PaperStore, blobs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		p, err := papers.GetPaper(r.Context(), id)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		pdf, err := cachedPDF(r, ai, blobs, p.ID)
		if err != nil {
			respondGatewayError(w, err)
			return
		}
		if !p.Locked {
			if err := papers.LockPaper(r.Context(), p.ID); err != nil {
				respondStoreError(w, err)
				return
			}
		}
		w.Header().Set("Content-Type", aigateway.ContentTypePDF)
		w.Header().Set("Content-Disposition", `attachment; filename="paper-`+p.ID+`.pdf"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
		_, _ = w.Write(pdf)
	}
}

func cachedPDF(r *http.Request, ai *aigateway.Client, blobs storage.BlobStore, paperID string) ([]byte, error) {
	key := storage.PaperPDFKey(paperID)
	if blobs != nil {
		if rc, err := blobs.Get(key); err == nil {
			defer rc.Close()
			if b, err := io.ReadAll(rc); err == nil && len(b) > 0 {
				return b, nil
			}
		} else if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("api: pdf cache read %s: %v", key, err)
		}
	}
	pdf, err := ai.DownloadPaper(r.Context(), paperID)
	if err != nil {
		return nil, err
	}
	if blobs != nil {
		if _, err := blobs.Put(key, bytes.NewReader(pdf)); err != nil {
			log.Printf("api: pdf cache write %s: %v", key, err)
		}
	}
	return pdf, nil
}

// SharePaperHandler locks the paper and hands out a student link.
func SharePaperHandler(a *auth.AuthService, papers classroom.PaperStore, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := papers.GetPaper(r.Context(), id); err != nil {
			respondStoreError(w, err)
			return
		}
		if err := papers.LockPaper(r.Context(), id); err != nil {
			respondStoreError(w, err)
			return
		}
		tok, err := a.IssueShareToken(id, ttl)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "issue share token")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"paper_id": id,
			"token":    tok,
			"url":      "/student/test/" + tok,
		})
	}
}

func SharedPaperHandler(a *auth.AuthService, papers classroom.PaperStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := a.ParseShareToken(chi.URLParam(r, "token"))
		if err != nil {
			respondError(w, http.StatusNotFound, "invalid or expired link")
			return
		}
		p, err := papers.GetPaper(r.Context(), id)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, p.ForStudent())
	}
}
