package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/config"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/ports"
)

const (
	maxJSONBodyBytes  = 1 << 20
	backpressureWait  = 100 * time.Millisecond
	multipartMemBytes = 8 << 20
)

// UploadObserver records accepted upload sizes.
type UploadObserver interface {
	ObserveUpload(size int64)
}

type Router struct {
	cfg       config.Config
	cases     ports.CaseService
	intake    ports.DocumentIntake
	status    ports.StatusReader
	generator ports.DocumentGenerator
	workflow  ports.CaseWorkflow
	uploads   UploadObserver
}

func NewRouter(
	cfg config.Config,
	cases ports.CaseService,
	intake ports.DocumentIntake,
	status ports.StatusReader,
	generator ports.DocumentGenerator,
	workflow ports.CaseWorkflow,
) *Router {
	return &Router{
		cfg:       cfg,
		cases:     cases,
		intake:    intake,
		status:    status,
		generator: generator,
		workflow:  workflow,
	}
}

func (rt *Router) WithUploadObserver(o UploadObserver) *Router {
	rt.uploads = o
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/cases", rt.createCase)
	mux.HandleFunc("GET /v1/cases/{id}", rt.getCase)
	mux.HandleFunc("GET /v1/cases/{id}/documents", rt.listDocuments)
	mux.HandleFunc("POST /v1/cases/{id}/documents", rt.uploadDocument)
	mux.HandleFunc("POST /v1/cases/{id}/generate", rt.generate)
	mux.HandleFunc("GET /v1/cases/{id}/generated", rt.listGenerated)
	mux.HandleFunc("POST /v1/cases/{id}/workflow", rt.applyWorkflow)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, backpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createCaseRequest struct {
	ClientName          string `json:"client_name"`
	ClientEmail         string `json:"client_email"`
	ClientPhone         string `json:"client_phone"`
	IncidentDate        string `json:"incident_date"`
	IncidentType        string `json:"incident_type"`
	IncidentLocation    string `json:"incident_location"`
	IncidentDescription string `json:"incident_description"`
	InjuryDescription   string `json:"injury_description"`
	Jurisdiction        string `json:"jurisdiction"`
	DefendantName       string `json:"defendant_name"`
	InsuranceCarrier    string `json:"insurance_carrier"`
	ClaimNumber         string `json:"claim_number"`
}

func (req createCaseRequest) intake() (domain.CaseIntake, error) {
	in := domain.CaseIntake{
		ClientName:          strings.TrimSpace(req.ClientName),
		ClientEmail:         strings.TrimSpace(req.ClientEmail),
		ClientPhone:         strings.TrimSpace(req.ClientPhone),
		IncidentType:        strings.TrimSpace(req.IncidentType),
		IncidentLocation:    req.IncidentLocation,
		IncidentDescription: req.IncidentDescription,
		InjuryDescription:   req.InjuryDescription,
		Jurisdiction:        strings.TrimSpace(req.Jurisdiction),
		DefendantName:       strings.TrimSpace(req.DefendantName),
		InsuranceCarrier:    strings.TrimSpace(req.InsuranceCarrier),
		ClaimNumber:         strings.TrimSpace(req.ClaimNumber),
	}
	if raw := strings.TrimSpace(req.IncidentDate); raw != "" {
		at, err := parseDate(raw)
		if err != nil {
			return domain.CaseIntake{}, domain.WrapError(domain.ErrInvalidInput, "parse incident date", err)
		}
		in.IncidentDate = at
	}
	return in, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("incident_date must be YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	return t.UTC(), nil
}

func (rt *Router) createCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	intake, err := req.intake()
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := rt.cases.CreateCase(r.Context(), intake)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, caseView(c))
}

type caseResponse struct {
	*domain.Case
	Documents []documentSummary `json:"documents"`
}

type documentSummary struct {
	ID              string                  `json:"id"`
	Filename        string                  `json:"filename"`
	Category        domain.DocumentCategory `json:"category,omitempty"`
	Status          domain.ProcessingStatus `json:"processing_status"`
	ProcessingError string                  `json:"processing_error,omitempty"`
}

func (rt *Router) getCase(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := rt.status.GetCase(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	docs, err := rt.status.ListDocuments(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := caseResponse{Case: caseView(c), Documents: make([]documentSummary, 0, len(docs))}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, documentSummary{
			ID:              d.ID,
			Filename:        d.Filename,
			Category:        d.Category,
			Status:          d.Status,
			ProcessingError: d.ProcessingError,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// caseView drops audit-only merge data from API responses.
func caseView(c *domain.Case) *domain.Case {
	if c == nil || c.Derived == nil {
		return c
	}
	out := *c
	derived := *c.Derived
	derived.ExtractedData.Superseded = nil
	out.Derived = &derived
	return &out
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.status.ListDocuments(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range docs {
		docs[i].ExtractedText = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

type registerDocumentRequest struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	StoragePath  string `json:"storage_path"`
	CategoryHint string `json:"category_hint"`
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		rt.registerDocument(w, r, caseID)
		return
	}

	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file exceeds upload limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form with field 'file' is required"})
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	hint, err := domain.ParseDocumentCategory(strings.TrimSpace(r.FormValue("category_hint")))
	if err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := rt.intake.Upload(r.Context(), ports.UploadRequest{
		CaseID:       caseID,
		Filename:     fileHeader.Filename,
		MimeType:     fileHeader.Header.Get("Content-Type"),
		CategoryHint: hint,
	}, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.uploads != nil {
		rt.uploads.ObserveUpload(fileHeader.Size)
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) registerDocument(w http.ResponseWriter, r *http.Request, caseID string) {
	var req registerDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	hint, err := domain.ParseDocumentCategory(strings.TrimSpace(req.CategoryHint))
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := rt.intake.RegisterDocument(r.Context(), ports.UploadRequest{
		CaseID:       caseID,
		Filename:     req.Filename,
		MimeType:     req.MimeType,
		CategoryHint: hint,
	}, req.StoragePath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.status.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type generateRequest struct {
	DocumentType string         `json:"document_type"`
	Tone         string         `json:"tone"`
	Parameters   map[string]any `json:"parameters"`
}

func (rt *Router) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	doc, err := rt.generator.Generate(r.Context(), domain.GenerationRequest{
		CaseID:       r.PathValue("id"),
		DocumentType: domain.DocumentType(strings.ToUpper(strings.TrimSpace(req.DocumentType))),
		Tone:         domain.Tone(strings.ToLower(strings.TrimSpace(req.Tone))),
		Parameters:   req.Parameters,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (rt *Router) listGenerated(w http.ResponseWriter, r *http.Request) {
	var docType domain.DocumentType
	if raw := strings.TrimSpace(r.URL.Query().Get("document_type")); raw != "" {
		parsed, err := domain.ParseDocumentType(strings.ToUpper(raw))
		if err != nil {
			writeError(w, r, err)
			return
		}
		docType = parsed
	}
	docs, err := rt.status.ListGenerated(r.Context(), r.PathValue("id"), docType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"generated_documents": docs})
}

type workflowRequest struct {
	Status string `json:"status"`
}

func (rt *Router) applyWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target := domain.CaseStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown case status %q", req.Status)})
		return
	}
	c, err := rt.workflow.ApplyWorkflowAction(r.Context(), r.PathValue("id"), target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, caseView(c))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
