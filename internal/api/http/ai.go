package http

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/mind-engage/mindengage-classroom/internal/aigateway"
	"github.com/mind-engage/mindengage-classroom/internal/storage"
)

func GenerateQuestionsHandler(ai *aigateway.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req aigateway.GenerateQuestionsRequest
		if !decodeValid(w, r, &req) {
			return
		}
		data, err := ai.GenerateQuestions(r.Context(), req)
		if err != nil {
			respondGatewayError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, data)
	}
}

// ParseSyllabusHandler accepts either JSON {"text": "..."} or a multipart
// upload in field "file". Uploads are kept in the blob store.
func ParseSyllabusHandler(ai *aigateway.Client, blobs storage.BlobStore, maxUpload int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			var req struct {
				Text string `json:"text" validate:"required"`
			}
			if !decodeValid(w, r, &req) {
				return
			}
			data, err := ai.ParseSyllabusText(r.Context(), req.Text)
			if err != nil {
				respondGatewayError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, data)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		f, hdr, err := r.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				respondError(w, http.StatusRequestEntityTooLarge, "file too large")
				return
			}
			respondError(w, http.StatusBadRequest, "file required")
			return
		}
		defer f.Close()
		ct, err := aigateway.UploadContentType(hdr.Filename, hdr.Header.Get("Content-Type"))
		if err != nil {
			respondGatewayError(w, err)
			return
		}
		body, err := io.ReadAll(f)
		if err != nil {
			respondError(w, http.StatusBadRequest, "cannot read upload")
			return
		}
		key := ""
		if blobs != nil {
			if key, err = blobs.Put(storage.SyllabusKey(hdr.Filename), bytes.NewReader(body)); err != nil {
				log.Printf("api: keep syllabus upload: %v", err)
				key = ""
			}
		}
		data, err := ai.ParseSyllabusFile(r.Context(), hdr.Filename, ct, bytes.NewReader(body))
		if err != nil {
			respondGatewayError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"result": data, "upload_key": key})
	}
}

func CheckPlagiarismHandler(ai *aigateway.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req aigateway.PlagiarismRequest
		if !decodeValid(w, r, &req) {
			return
		}
		rep, err := ai.CheckPlagiarism(r.Context(), req)
		if err != nil {
			respondGatewayError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, rep)
	}
}

// EvaluateMockHandler scores a practice test without touching any
// assignment. The client saves progress separately.
func EvaluateMockHandler(ai *aigateway.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Questions []aigateway.EvalQuestion `json:"questions" validate:"required,min=1,dive"`
		}
		if !decodeValid(w, r, &req) {
			return
		}
		ev, err := ai.EvaluateMock(r.Context(), aigateway.EvaluateRequest{Questions: req.Questions})
		if err != nil {
			respondGatewayError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, ev)
	}
}

func AIHealthHandler(ai *aigateway.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ai.Health(r.Context()); err != nil {
			respondGatewayError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
