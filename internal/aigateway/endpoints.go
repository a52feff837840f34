package aigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-classroom/internal/classroom"
)

const (
	EndpointGenerateQuestions = "/api/generate_questions"
	EndpointGeneratePaper     = "/api/generate_paper"
	EndpointEvaluateMock      = "/api/evaluate_mock"
	EndpointParseSyllabus     = "/api/parse_syllabus"
	EndpointCheckPlagiarism   = "/api/check_plagiarism"
	EndpointGetPaper          = "/api/get_paper/"
	EndpointDownloadPaper     = "/api/download_paper/"
	EndpointHealth            = "/api/health"

	ContentTypePDF = "application/pdf"
)

type GenerateQuestionsRequest struct {
	Topic        string `json:"topic" validate:"required"`
	ExamType     string `json:"exam_type,omitempty"`
	Difficulty   string `json:"difficulty,omitempty"`
	QuestionType string `json:"question_type,omitempty"`
	NumQuestions int    `json:"num_questions,omitempty" validate:"omitempty,min=1,max=50"`
}

type GeneratePaperRequest struct {
	Subject           string `json:"subject" validate:"required"`
	ExamType          string `json:"exam_type,omitempty"`
	NumQuestions      int    `json:"num_questions,omitempty" validate:"omitempty,min=1,max=100"`
	MarksDistribution []int  `json:"marks_distribution,omitempty"`
	Difficulty        string `json:"difficulty,omitempty"`
}

// EvalQuestion is one answered question sent for scoring.
type EvalQuestion struct {
	ID            string  `json:"id"`
	Type          string  `json:"type"`
	Question      string  `json:"question,omitempty"`
	StudentAnswer string  `json:"student_answer"`
	CorrectAnswer string  `json:"correct_answer"`
	Marks         float64 `json:"marks"`
}

type EvaluateRequest struct {
	Questions []EvalQuestion `json:"questions"`
}

type PlagiarismRequest struct {
	Text           string   `json:"text" validate:"required"`
	ReferenceTexts []string `json:"reference_texts,omitempty"`
}

type PlagiarismReport struct {
	OriginalityScore float64         `json:"originality_score"`
	RiskLevel        string          `json:"risk_level"`
	SimilarityScores json.RawMessage `json:"similarity_scores,omitempty"`
	Analysis         json.RawMessage `json:"analysis,omitempty"`
	TextLength       int             `json:"text_length"`
}

func (c *Client) GenerateQuestions(ctx context.Context, req GenerateQuestionsRequest) (json.RawMessage, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, validation("topic is required")
	}
	res := c.Do(ctx, EndpointGenerateQuestions, http.MethodPost, req)
	if !res.Success {
		return nil, res.Err
	}
	return res.Data, nil
}

type paperWire struct {
	PaperID string `json:"paper_id"`
	Paper   struct {
		ID         string               `json:"_id"`
		Title      string               `json:"title"`
		Questions  []classroom.Question `json:"questions"`
		TotalMarks float64              `json:"total_marks"`
	} `json:"paper"`
}

func (p paperWire) toPaper() classroom.Paper {
	out := classroom.Paper{
		ID:         p.PaperID,
		Title:      p.Paper.Title,
		Questions:  p.Paper.Questions,
		TotalMarks: p.Paper.TotalMarks,
	}
	if out.ID == "" {
		out.ID = p.Paper.ID
	}
	if out.Questions == nil {
		out.Questions = []classroom.Question{}
	}
	return out
}

// GeneratePaper returns the paper as generated; callers dedupe and store it.
func (c *Client) GeneratePaper(ctx context.Context, req GeneratePaperRequest) (classroom.Paper, error) {
	if strings.TrimSpace(req.Subject) == "" {
		return classroom.Paper{}, validation("subject is required")
	}
	res := c.Do(ctx, EndpointGeneratePaper, http.MethodPost, req)
	if !res.Success {
		return classroom.Paper{}, res.Err
	}
	var w paperWire
	if err := json.Unmarshal(res.Data, &w); err != nil {
		return classroom.Paper{}, &Error{Kind: KindInvalidResponse, Message: "malformed paper", Status: res.Status, Err: err}
	}
	return w.toPaper(), nil
}

func (c *Client) GetPaper(ctx context.Context, id string) (classroom.Paper, error) {
	res := c.Do(ctx, EndpointGetPaper+url.PathEscape(id), http.MethodGet, nil)
	if !res.Success {
		return classroom.Paper{}, res.Err
	}
	var w paperWire
	// get_paper answers with the bare document
	if err := json.Unmarshal(res.Data, &w.Paper); err != nil {
		return classroom.Paper{}, &Error{Kind: KindInvalidResponse, Message: "malformed paper", Status: res.Status, Err: err}
	}
	return w.toPaper(), nil
}

// EvaluateMock scores answers; opts may shorten the 60s default budget.
func (c *Client) EvaluateMock(ctx context.Context, req EvaluateRequest, opts ...Option) (classroom.Evaluation, error) {
	if len(req.Questions) == 0 {
		return classroom.Evaluation{}, validation("no questions to evaluate")
	}
	res := c.Do(ctx, EndpointEvaluateMock, http.MethodPost, req, opts...)
	if !res.Success {
		return classroom.Evaluation{}, res.Err
	}
	return NormalizeEvaluation(res.Data)
}

func (c *Client) ParseSyllabusText(ctx context.Context, text string) (json.RawMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, validation("text is required")
	}
	res := c.Do(ctx, EndpointParseSyllabus, http.MethodPost, map[string]string{"text": text})
	if !res.Success {
		return nil, res.Err
	}
	return res.Data, nil
}

var uploadTypes = map[string]string{
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
	"audio/webm":      ".webm",
	"video/webm":      ".webm",
	"audio/mp4":       ".mp4",
	"video/mp4":       ".mp4",
	"audio/ogg":       ".ogg",
	"application/ogg": ".ogg",
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"audio/wave":      ".wav",
	"audio/mpeg":      ".mp3",
	"audio/mp3":       ".mp3",
}

var uploadExts = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".webm": "audio/webm",
	".mp4":  "audio/mp4",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
}

// UploadContentType resolves the type to send for a syllabus upload, or
// fails with KindValidation when neither the declared type nor the file
// extension is accepted.
func UploadContentType(filename, declared string) (string, error) {
	mt, _, _ := mime.ParseMediaType(declared)
	mt = strings.ToLower(mt)
	if _, ok := uploadTypes[mt]; ok {
		return mt, nil
	}
	if ct, ok := uploadExts[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct, nil
	}
	return "", validation(fmt.Sprintf("unsupported file type %q; upload PDF, TXT or audio (webm, mp4, ogg, wav, mp3)", declared))
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// ParseSyllabusFile uploads the file as multipart field "file".
func (c *Client) ParseSyllabusFile(ctx context.Context, filename, contentType string, r io.Reader) (json.RawMessage, error) {
	ct, err := UploadContentType(filename, contentType)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filepath.Base(filename))))
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, validation("cannot build upload")
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, &Error{Kind: KindValidation, Message: "cannot read upload", Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, validation("cannot build upload")
	}

	res := c.Do(ctx, EndpointParseSyllabus, http.MethodPost, rawBody{contentType: mw.FormDataContentType(), data: buf.Bytes()})
	if !res.Success {
		return nil, res.Err
	}
	return res.Data, nil
}

func (c *Client) CheckPlagiarism(ctx context.Context, req PlagiarismRequest) (PlagiarismReport, error) {
	if strings.TrimSpace(req.Text) == "" {
		return PlagiarismReport{}, validation("text is required")
	}
	res := c.Do(ctx, EndpointCheckPlagiarism, http.MethodPost, req)
	if !res.Success {
		return PlagiarismReport{}, res.Err
	}
	var rep PlagiarismReport
	if err := json.Unmarshal(res.Data, &rep); err != nil {
		return PlagiarismReport{}, &Error{Kind: KindInvalidResponse, Message: "malformed plagiarism report", Status: res.Status, Err: err}
	}
	return rep, nil
}

// DownloadPaper fetches the rendered PDF. A 200 with any other content
// type is an error.
func (c *Client) DownloadPaper(ctx context.Context, paperID string) ([]byte, error) {
	res := c.Do(ctx, EndpointDownloadPaper+url.PathEscape(paperID), http.MethodGet, nil, WithBinary(ContentTypePDF))
	if !res.Success {
		return nil, res.Err
	}
	return res.Body, nil
}

func (c *Client) Health(ctx context.Context) error {
	res := c.Do(ctx, EndpointHealth, http.MethodGet, nil, WithTimeout(5*time.Second))
	if !res.Success {
		return res.Err
	}
	return nil
}
