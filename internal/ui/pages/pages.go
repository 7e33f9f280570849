// Пакет pages — HTML-страницы Notas Fadex (templ-компоненты).
// attest_templ.go генерируется из attest.templ командой templ generate.
package pages

import "net/url"

// NoteSummary — данные ноты для страницы аттестации (уже отформатированные).
type NoteSummary struct {
	ID                   string
	NumeroNota           string
	Amount               string
	IssueDate            string
	Deadline             string
	ProjectTitle         string
	ProjectAccountNumber string
	Requester            string
	Description          string
	CoordinatorEmail     string
	// FileURL — ссылка на исходный PDF (пусто, если файла нет)
	FileURL string
}

// AttestPageData — содержимое страницы /attest/{token}.
// Если Message не пуст, формы не показываются.
type AttestPageData struct {
	Token   string
	Note    *NoteSummary
	Message string
}

type summaryRow struct {
	label string
	value string
}

// summaryRows — непустые строки карточки ноты.
func summaryRows(n *NoteSummary) []summaryRow {
	rows := []summaryRow{
		{"Valor", n.Amount},
		{"Data de emissão", n.IssueDate},
		{"Projeto", n.ProjectTitle},
		{"Conta do projeto", n.ProjectAccountNumber},
		{"Solicitante", n.Requester},
		{"Descrição", n.Description},
		{"Prazo para atesto", n.Deadline},
	}
	out := rows[:0]
	for _, r := range rows {
		if r.value != "" {
			out = append(out, r)
		}
	}
	return out
}

// attestAction — адрес формы аттестации. Токен в query проверяется
// до чтения тела запроса.
func attestAction(token string) string {
	return "/api/public/attest?token=" + url.QueryEscape(token)
}
