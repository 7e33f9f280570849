package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fadex/notas-fadex/internal/domain/model"
	"github.com/fadex/notas-fadex/internal/service"
)

func TestResultStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{service.ResultOK, http.StatusOK},
		{service.ResultValidation, http.StatusBadRequest},
		{service.ResultTokenExpired, http.StatusUnauthorized},
		{service.ResultTokenInvalid, http.StatusUnauthorized},
		{service.ResultTokenMismatch, http.StatusForbidden},
		{service.ResultNotFound, http.StatusNotFound},
		{service.ResultNotPending, http.StatusConflict},
		{service.ResultUploadFailed, http.StatusBadGateway},
		{service.ResultInternal, http.StatusInternalServerError},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ResultStatus(tt.code); got != tt.want {
				t.Errorf("ResultStatus(%q) = %d, ожидали %d", tt.code, got, tt.want)
			}
		})
	}
}

func pendingNote() *model.FiscalNote {
	fileID := "f1"
	return &model.FiscalNote{
		ID:                  "n1",
		NumeroNota:          "NF-001",
		Status:              model.StatusPending,
		Amount:              decimal.RequireFromString("1530.75"),
		IssueDate:           time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
		CoordinatorEmail:    "jose@fadex.test",
		RequesterEmail:      "maria@fadex.test",
		CreatorID:           "user-1",
		AttestationDeadline: time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC),
		DriveFileID:         &fileID,
	}
}

func TestGetPublicNote(t *testing.T) {
	att := &stubAttestation{note: pendingNote()}
	h := newTestHandler(Services{Attestation: att})

	rec := httptest.NewRecorder()
	h.GetPublicNote(rec, httptest.NewRequest(http.MethodGet, "/api/public/notes?token=tok", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var body struct {
		Success bool `json:"success"`
		Note    struct {
			ID        string `json:"id"`
			Amount    string `json:"amount"`
			IssueDate string `json:"issueDate"`
			FileURL   string `json:"fileUrl"`
			CreatorID string `json:"creatorId"`
		} `json:"note"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("ответ не JSON: %v", err)
	}
	if !body.Success || body.Note.ID != "n1" {
		t.Errorf("body = %+v", body)
	}
	if body.Note.Amount != "1530.75" || body.Note.IssueDate != "2026-01-20" {
		t.Errorf("amount = %q, issueDate = %q", body.Note.Amount, body.Note.IssueDate)
	}
	if !strings.HasSuffix(body.Note.FileURL, "/api/download/f1?token=tok") {
		t.Errorf("fileUrl = %q", body.Note.FileURL)
	}
	if body.Note.CreatorID != "" {
		t.Error("публичный ответ не должен раскрывать владельца")
	}
}

func TestGetPublicNote_Failures(t *testing.T) {
	notPending := pendingNote()
	notPending.Status = model.StatusAttested

	tests := []struct {
		name     string
		note     *model.FiscalNote
		code     string
		want     int
		wantNote bool
	}{
		{"истёкший токен", nil, service.ResultTokenExpired, http.StatusUnauthorized, false},
		{"нота не найдена", nil, service.ResultNotFound, http.StatusNotFound, false},
		{"нота обработана", notPending, service.ResultNotPending, http.StatusConflict, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att := &stubAttestation{
				note:       tt.note,
				noteResult: &service.Result{Code: tt.code, Message: "msg"},
			}
			h := newTestHandler(Services{Attestation: att})

			rec := httptest.NewRecorder()
			h.GetPublicNote(rec, httptest.NewRequest(http.MethodGet, "/api/public/notes?token=tok", nil))

			if rec.Code != tt.want {
				t.Errorf("status = %d, ожидали %d", rec.Code, tt.want)
			}
			var body map[string]any
			_ = json.Unmarshal(rec.Body.Bytes(), &body)
			if body["success"] != false || body["code"] != tt.code {
				t.Errorf("body = %v", body)
			}
			if _, has := body["note"]; has != tt.wantNote {
				t.Errorf("note в ответе = %v, ожидали %v", has, tt.wantNote)
			}
		})
	}
}

// attestRequest строит multipart-запрос формы аттестации.
func attestRequest(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if file != nil {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="attestedFile"; filename="atestada.pdf"`)
		hdr.Set("Content-Type", "application/pdf")
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		_, _ = part.Write(file)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/public/attest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPostAttest(t *testing.T) {
	att := &stubAttestation{result: service.Result{Success: true, Code: service.ResultOK, Message: "Nota atestada com sucesso!"}}
	h := newTestHandler(Services{Attestation: att})

	req := attestRequest(t, map[string]string{
		"token":            "tok",
		"coordinatorName":  "José Silva",
		"coordinatorEmail": "jose@fadex.test",
		"observation":      "ok",
	}, []byte("%PDF-1.7 conteúdo"))

	rec := httptest.NewRecorder()
	h.PostAttest(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	form := att.attestForm
	if form.Token != "tok" || form.CoordinatorName != "José Silva" || form.CoordinatorEmail != "jose@fadex.test" || form.Observation != "ok" {
		t.Errorf("форма = %+v", form)
	}
	if form.File == nil || form.File.ContentType != "application/pdf" || form.File.Filename != "atestada.pdf" {
		t.Fatalf("файл = %+v", form.File)
	}
	if att.fileBody != "%PDF-1.7 conteúdo" {
		t.Errorf("содержимое файла = %q", att.fileBody)
	}

	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["success"] != true || body["message"] != "Nota atestada com sucesso!" {
		t.Errorf("body = %v", body)
	}
}

func TestPostAttest_NoFile(t *testing.T) {
	att := &stubAttestation{result: service.Result{Code: service.ResultValidation, Message: "O arquivo PDF é obrigatório."}}
	h := newTestHandler(Services{Attestation: att})

	rec := httptest.NewRecorder()
	h.PostAttest(rec, attestRequest(t, map[string]string{"token": "tok"}, nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, ожидали 400", rec.Code)
	}
	if att.attestForm.File != nil {
		t.Error("файл не передавался")
	}
}

func TestPostAttest_NotMultipart(t *testing.T) {
	att := &stubAttestation{}
	h := newTestHandler(Services{Attestation: att})

	req := httptest.NewRequest(http.MethodPost, "/api/public/attest", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.PostAttest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, ожидали 400", rec.Code)
	}
	if att.attestForm.Token != "" {
		t.Error("сервис не должен вызываться")
	}
}

func TestPostAttest_QueryTokenCheckedBeforeBody(t *testing.T) {
	att := &stubAttestation{tokenResult: &service.Result{Code: service.ResultTokenInvalid, Message: "Link inválido."}}
	h := newTestHandler(Services{Attestation: att})

	// Тело больше лимита: при проверке токена первым размер не важен
	big := bytes.Repeat([]byte("x"), 15<<20)
	req := attestRequest(t, map[string]string{"coordinatorName": "José Silva"}, big)
	req.URL.RawQuery = "token=forjado"

	rec := httptest.NewRecorder()
	h.PostAttest(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, ожидали 401, body = %s", rec.Code, rec.Body)
	}
	if len(att.verified) != 1 || att.verified[0] != "forjado" {
		t.Errorf("проверенные токены = %v", att.verified)
	}
	if att.attestForm.CoordinatorName != "" {
		t.Error("сервис не должен вызываться")
	}
}

func TestPostAttest_QueryTokenFillsForm(t *testing.T) {
	att := &stubAttestation{result: service.Result{Success: true, Code: service.ResultOK}}
	h := newTestHandler(Services{Attestation: att})

	req := attestRequest(t, map[string]string{"coordinatorName": "José Silva"}, []byte("%PDF-1.7 conteúdo"))
	req.URL.RawQuery = "token=tok"

	rec := httptest.NewRecorder()
	h.PostAttest(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if att.attestForm.Token != "tok" {
		t.Errorf("Token = %q, ожидали tok", att.attestForm.Token)
	}
}

func TestAttestUpload_OpenFailure(t *testing.T) {
	h := newTestHandler(Services{Attestation: &stubAttestation{}})

	// FileHeader без содержимого и временного файла не открывается
	_, res := h.attestUpload([]*multipart.FileHeader{{Filename: "atestada.pdf", Size: 10}})
	if res == nil {
		t.Fatal("ожидали Result с ошибкой")
	}
	if res.Code != service.ResultValidation || res.Message != "Não foi possível ler o arquivo enviado." {
		t.Errorf("Result = %+v", res)
	}

	file, res := h.attestUpload(nil)
	if file != nil || res != nil {
		t.Errorf("без файла = %v, %v; ожидали nil, nil", file, res)
	}
}

func TestPostReject(t *testing.T) {
	jsonBody := `{"token":"tok","noteId":"n1","coordinatorName":"José Silva","rejectionReason":"Valor divergente do contrato"}`
	formBody := url.Values{
		"token":           {"tok"},
		"noteId":          {"n1"},
		"coordinatorName": {"José Silva"},
		"rejectionReason": {"Valor divergente do contrato"},
	}.Encode()

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"json", "application/json", jsonBody},
		{"форма", "application/x-www-form-urlencoded", formBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att := &stubAttestation{result: service.Result{Success: true, Code: service.ResultOK, Message: "Nota rejeitada com sucesso."}}
			h := newTestHandler(Services{Attestation: att})

			req := httptest.NewRequest(http.MethodPost, "/api/public/reject", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			h.PostReject(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
			}
			want := service.RejectForm{
				Token:           "tok",
				NoteID:          "n1",
				CoordinatorName: "José Silva",
				Reason:          "Valor divergente do contrato",
			}
			if att.rejectForm != want {
				t.Errorf("форма = %+v, ожидали %+v", att.rejectForm, want)
			}
		})
	}
}

func TestPostReject_Mismatch(t *testing.T) {
	att := &stubAttestation{result: service.Result{Code: service.ResultTokenMismatch, Message: "O link de atesto não corresponde a esta nota."}}
	h := newTestHandler(Services{Attestation: att})

	req := httptest.NewRequest(http.MethodPost, "/api/public/reject", strings.NewReader(`{"token":"tok","noteId":"other"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.PostReject(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, ожидали 403", rec.Code)
	}
}

func TestPostReject_BadJSON(t *testing.T) {
	h := newTestHandler(Services{Attestation: &stubAttestation{}})

	req := httptest.NewRequest(http.MethodPost, "/api/public/reject", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.PostReject(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, ожидали 400", rec.Code)
	}
}
