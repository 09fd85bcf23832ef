//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

// MountSwagger serves the Swagger UI under /swagger/. The UI reads
// /swagger/doc.json, which is only populated once the document has been
// generated and linked into the binary:
//
//	swag init -g cmd/segd/docs.go -o cmd/segd/docs
//
// followed by a blank import of segd/cmd/segd/docs in a swagger-tagged file
// of package main. Without that step the UI loads with an empty document.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
