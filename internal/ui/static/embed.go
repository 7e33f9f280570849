// Пакет static — встроенные css/js публичной страницы аттестации.
package static

import (
	"embed"
	"net/http"
)

//go:embed css/*.css js/*.js
var content embed.FS

// cacheControl: файлы меняются только с новой сборкой образа.
const cacheControl = "public, max-age=3600"

// Handler раздаёт встроенные файлы под префиксом prefix (например, "/static/").
func Handler(prefix string) http.Handler {
	files := http.StripPrefix(prefix, http.FileServerFS(content))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", cacheControl)
		files.ServeHTTP(w, r)
	})
}
