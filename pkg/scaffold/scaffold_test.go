package scaffold

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const existingCompose = `# local stack
services:
  nats:
    image: nats:2.10
    command: ["-js"]
volumes:
  data: {}
`

func TestAddService(t *testing.T) {
	t.Run("new document", func(t *testing.T) {
		out, err := AddService(nil, Service{Name: "usersvc", Image: "usersvc:latest", Ports: []string{"8080:8080"}})
		require.NoError(t, err)

		names, err := ServiceNames(out)
		require.NoError(t, err)
		assert.Equal(t, []string{"usersvc"}, names)
	})

	t.Run("keeps existing content", func(t *testing.T) {
		out, err := AddService([]byte(existingCompose), Service{
			Name:        "usersvc",
			Image:       "usersvc:latest",
			Environment: map[string]string{"USERSVC_NATS_URL": "nats://nats:4222"},
			DependsOn:   []string{"nats"},
		})
		require.NoError(t, err)

		text := string(out)
		assert.Contains(t, text, "# local stack")
		assert.Contains(t, text, "volumes:")

		names, err := ServiceNames(out)
		require.NoError(t, err)
		assert.Equal(t, []string{"nats", "usersvc"}, names)

		var doc struct {
			Services map[string]Service `yaml:"services"`
		}
		require.NoError(t, yaml.Unmarshal(out, &doc))
		got := doc.Services["usersvc"]
		assert.Equal(t, "usersvc:latest", got.Image)
		assert.Equal(t, "nats://nats:4222", got.Environment["USERSVC_NATS_URL"])
		assert.Equal(t, []string{"nats"}, got.DependsOn)
	})

	t.Run("empty services key", func(t *testing.T) {
		out, err := AddService([]byte("services:\n"), Service{Name: "a", Image: "a"})
		require.NoError(t, err)

		names, err := ServiceNames(out)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, names)
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := AddService([]byte(existingCompose), Service{Name: "nats", Image: "nats:latest"})
		assert.ErrorIs(t, err, ErrServiceExists)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := AddService(nil, Service{Name: "x"})
		assert.Error(t, err)

		_, err = AddService([]byte("- a\n- b\n"), Service{Name: "x", Image: "x"})
		assert.Error(t, err)
	})
}

func TestAddServiceToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docker-compose.yml")

	require.NoError(t, AddServiceToFile(path, Service{Name: "a", Image: "a:1"}))
	require.NoError(t, AddServiceToFile(path, Service{Name: "b", Image: "b:1"}))
	assert.ErrorIs(t, AddServiceToFile(path, Service{Name: "a", Image: "a:2"}), ErrServiceExists)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	names, err := ServiceNames(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestRenderGateway(t *testing.T) {
	out, err := RenderGateway(Route{Name: "users", Upstream: "usersvc", Port: 8080})
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "upstream users {")
	assert.Contains(t, text, "server usersvc:8080;")
	assert.Contains(t, text, "location /users/ {")
	assert.Contains(t, text, "proxy_pass http://users;")

	out, err = RenderGateway(Route{Name: "api", PathPrefix: "v1/", Upstream: "api", Port: 80})
	require.NoError(t, err)
	assert.Contains(t, string(out), "location /v1/ {")

	for _, bad := range []Route{
		{Upstream: "x", Port: 1},
		{Name: "a/b", Upstream: "x", Port: 1},
		{Name: "a", Port: 1},
		{Name: "a", Upstream: "x", Port: 70000},
	} {
		_, err := RenderGateway(bad)
		assert.Error(t, err, "%+v", bad)
	}
}

func TestWriteGateway(t *testing.T) {
	dir := t.TempDir()
	route := Route{Name: "users", Upstream: "usersvc", Port: 8080}

	path, err := WriteGateway(dir, route)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "users.conf"), path)

	_, err = WriteGateway(dir, route)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestPrompter(t *testing.T) {
	t.Run("service", func(t *testing.T) {
		in := strings.NewReader("\nusersvc\n\nabc\n9090\n\nBAD\nLOG_LEVEL=debug\n\n")
		var out strings.Builder

		svc, err := NewPrompter(in, &out).AskService()
		require.NoError(t, err)

		assert.Equal(t, "usersvc", svc.Name)
		assert.Equal(t, "usersvc:latest", svc.Image)
		assert.Equal(t, []string{"9090:9090"}, svc.Ports)
		assert.Equal(t, "unless-stopped", svc.Restart)
		assert.Equal(t, map[string]string{"LOG_LEVEL": "debug"}, svc.Environment)

		assert.Contains(t, out.String(), "A value is required.")
		assert.Contains(t, out.String(), `"abc" is not a number.`)
		assert.Contains(t, out.String(), `"BAD" is not KEY=VALUE.`)
	})

	t.Run("route", func(t *testing.T) {
		in := strings.NewReader("users\n\nusersvc\n\n")
		route, err := NewPrompter(in, &strings.Builder{}).AskRoute()
		require.NoError(t, err)
		assert.Equal(t, Route{Name: "users", PathPrefix: "/users/", Upstream: "usersvc", Port: 8080}, route)
	})

	t.Run("input ends", func(t *testing.T) {
		_, err := NewPrompter(strings.NewReader("usersvc\n"), &strings.Builder{}).AskService()
		assert.Error(t, err)
	})
}
