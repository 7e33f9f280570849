package mailer

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/fadex/notas-fadex/internal/domain/model"
)

// Типы уведомлений (метка kind в метриках).
const (
	KindAttestRequest = "attest_request"
	KindReminder      = "reminder"
	KindAttested      = "attested"
	KindRejected      = "rejected"
	KindExpired       = "expired"
)

// noteView — данные ноты для шаблонов писем.
type noteView struct {
	NumeroNota    string
	ProjectTitle  string
	ProjectNumber string
	Requester     string
	Amount        string
	IssueDate     string
	Deadline      string
	Link          string
	Coordinator   string
	Reason        string
	Observation   string
}

func newNoteView(n *model.FiscalNote) noteView {
	v := noteView{
		NumeroNota:    n.NumeroNota,
		ProjectTitle:  n.ProjectTitle,
		ProjectNumber: n.ProjectAccountNumber,
		Requester:     n.Requester,
		Amount:        model.FormatBRL(n.Amount),
		IssueDate:     model.FormatDateBR(n.IssueDate),
		Deadline:      model.FormatDateBR(n.AttestationDeadline),
	}
	if n.AttestedBy != nil {
		v.Coordinator = *n.AttestedBy
	}
	if n.Observation != nil {
		v.Observation = *n.Observation
	}
	return v
}

const layout = `{{define "summary"}}<table>
<tr><td>Nota fiscal</td><td>{{.NumeroNota}}</td></tr>
<tr><td>Projeto</td><td>{{.ProjectNumber}} {{.ProjectTitle}}</td></tr>
<tr><td>Solicitante</td><td>{{.Requester}}</td></tr>
<tr><td>Valor</td><td>{{.Amount}}</td></tr>
<tr><td>Emissão</td><td>{{.IssueDate}}</td></tr>
</table>{{end}}`

var templates = template.Must(template.New("mail").Parse(layout + `
{{define "attest_request"}}<p>Olá,</p>
<p>Uma nota fiscal aguarda o seu atesto até <strong>{{.Deadline}}</strong>.</p>
{{template "summary" .}}
<p><a href="{{.Link}}">Atestar ou rejeitar a nota</a></p>{{end}}
{{define "reminder"}}<p>Lembrete: a nota fiscal abaixo ainda aguarda o seu atesto. Prazo final: <strong>{{.Deadline}}</strong>.</p>
{{template "summary" .}}
<p><a href="{{.Link}}">Atestar ou rejeitar a nota</a></p>{{end}}
{{define "attested"}}<p>A nota fiscal foi atestada por <strong>{{.Coordinator}}</strong>.</p>
{{template "summary" .}}
{{if .Observation}}<p>Observação: {{.Observation}}</p>{{end}}{{end}}
{{define "rejected"}}<p>A nota fiscal foi rejeitada por <strong>{{.Coordinator}}</strong>.</p>
{{template "summary" .}}
<p>Motivo: {{.Reason}}</p>{{end}}
{{define "expired"}}<p>A nota fiscal expirou em {{.Deadline}} pois não foi atestada até o prazo final.</p>
{{template "summary" .}}{{end}}
`))

func render(name string, v noteView) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("шаблон письма %s: %w", name, err)
	}
	return buf.String(), nil
}

func build(kind, subject string, to []string, v noteView) (Message, error) {
	html, err := render(kind, v)
	if err != nil {
		return Message{}, err
	}
	return Message{To: nonEmpty(to), Subject: subject, HTML: html, Kind: kind}, nil
}

// AttestRequest — письмо координатору со ссылкой аттестации.
func AttestRequest(n *model.FiscalNote, link string) (Message, error) {
	v := newNoteView(n)
	v.Link = link
	return build(KindAttestRequest, "Nota fiscal "+n.NumeroNota+" aguardando atesto",
		[]string{n.CoordinatorEmail}, v)
}

// Reminder — напоминание координатору.
func Reminder(n *model.FiscalNote, link string) (Message, error) {
	v := newNoteView(n)
	v.Link = link
	return build(KindReminder, "Lembrete: nota fiscal "+n.NumeroNota+" aguardando atesto",
		[]string{n.CoordinatorEmail}, v)
}

// Attested — подтверждение аттестации заявителю и координатору.
func Attested(n *model.FiscalNote, coordinatorEmail string) (Message, error) {
	return build(KindAttested, "Nota fiscal "+n.NumeroNota+" atestada",
		[]string{n.RequesterEmail, coordinatorEmail}, newNoteView(n))
}

// Rejected — уведомление заявителя об отклонении.
func Rejected(n *model.FiscalNote, coordinatorName, reason string) (Message, error) {
	v := newNoteView(n)
	v.Coordinator = coordinatorName
	v.Reason = reason
	return build(KindRejected, "Nota fiscal "+n.NumeroNota+" rejeitada",
		[]string{n.RequesterEmail}, v)
}

// Expired — уведомление заявителя об истечении срока.
func Expired(n *model.FiscalNote) (Message, error) {
	return build(KindExpired, "Nota fiscal "+n.NumeroNota+" expirada",
		[]string{n.RequesterEmail}, newNoteView(n))
}

// nonEmpty убирает пустые и повторяющиеся адреса.
func nonEmpty(addrs []string) []string {
	seen := make(map[string]bool, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
