package scaffold

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Route sends requests under PathPrefix to an upstream service.
type Route struct {
	Name       string
	PathPrefix string
	Upstream   string
	Port       int
}

var gatewayTemplate = template.Must(template.New("gateway").Parse(`upstream {{ .Name }} {
    server {{ .Upstream }}:{{ .Port }};
}

location {{ .PathPrefix }} {
    proxy_pass http://{{ .Name }};
    proxy_http_version 1.1;
    proxy_set_header Host $host;
    proxy_set_header X-Real-IP $remote_addr;
    proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
    proxy_set_header X-Forwarded-Proto $scheme;
}
`))

func (r Route) validate() error {
	switch {
	case r.Name == "":
		return errors.New("route name is required")
	case strings.ContainsAny(r.Name, "/ \t"):
		return fmt.Errorf("route name %q must not contain slashes or spaces", r.Name)
	case r.Upstream == "":
		return fmt.Errorf("route %s: upstream is required", r.Name)
	case r.Port <= 0 || r.Port > 65535:
		return fmt.Errorf("route %s: invalid port %d", r.Name, r.Port)
	}
	return nil
}

// RenderGateway renders the nginx configuration of route. A missing path
// prefix defaults to "/<name>/".
func RenderGateway(route Route) ([]byte, error) {
	if err := route.validate(); err != nil {
		return nil, err
	}
	if route.PathPrefix == "" {
		route.PathPrefix = "/" + route.Name + "/"
	}
	if !strings.HasPrefix(route.PathPrefix, "/") {
		route.PathPrefix = "/" + route.PathPrefix
	}

	var buf bytes.Buffer
	if err := gatewayTemplate.Execute(&buf, route); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteGateway writes "<dir>/<name>.conf" and returns its path. An existing
// file is not overwritten.
func WriteGateway(dir string, route Route) (string, error) {
	data, err := RenderGateway(route)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, route.Name+".conf")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
