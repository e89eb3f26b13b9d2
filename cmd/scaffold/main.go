// scaffold adds a service to docker-compose.yml or writes an nginx gateway
// route for it. Values not given as flags are asked for interactively.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/plaenen/fnsourcing/pkg/scaffold"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "scaffold: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: scaffold <command> [options]\n")
	fmt.Fprintf(w, "\nCommands:\n")
	fmt.Fprintf(w, "  service   add a service to a compose file\n")
	fmt.Fprintf(w, "  gateway   write an nginx route for a service\n")
	fmt.Fprintf(w, "\nExample:\n")
	fmt.Fprintf(w, "  scaffold service -file docker-compose.yml -name usersvc -image usersvc:latest -port 8080\n")
	fmt.Fprintf(w, "  scaffold gateway -dir deploy/nginx -name users -upstream usersvc -port 8080\n")
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "service":
		return runService(args[1:], stdin, stdout, stderr)
	case "gateway":
		return runGateway(args[1:], stdin, stdout, stderr)
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runService(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var (
		file  string
		svc   scaffold.Service
		port  int
		extra envFlags
	)

	fs := flag.NewFlagSet("service", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&file, "file", "docker-compose.yml", "Compose file to update")
	fs.StringVar(&svc.Name, "name", "", "Service name (asked if empty)")
	fs.StringVar(&svc.Image, "image", "", "Container image (defaults to <name>:latest)")
	fs.IntVar(&port, "port", 8080, "Published container port")
	fs.StringVar(&svc.Restart, "restart", "unless-stopped", "Restart policy")
	fs.Var(&extra, "env", "Environment variable KEY=VALUE (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if svc.Name == "" {
		asked, err := scaffold.NewPrompter(stdin, stdout).AskService()
		if err != nil {
			return err
		}
		svc = asked
	} else {
		if svc.Image == "" {
			svc.Image = svc.Name + ":latest"
		}
		svc.Ports = []string{fmt.Sprintf("%d:%d", port, port)}
	}
	for k, v := range extra {
		if svc.Environment == nil {
			svc.Environment = make(map[string]string)
		}
		svc.Environment[k] = v
	}

	if err := scaffold.AddServiceToFile(file, svc); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Added service %s to %s\n", svc.Name, file)
	return nil
}

func runGateway(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var (
		dir   string
		route scaffold.Route
	)

	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&dir, "dir", ".", "Directory for the generated .conf file")
	fs.StringVar(&route.Name, "name", "", "Route name (asked if empty)")
	fs.StringVar(&route.PathPrefix, "prefix", "", "Path prefix (defaults to /<name>/)")
	fs.StringVar(&route.Upstream, "upstream", "", "Upstream host (defaults to the route name)")
	fs.IntVar(&route.Port, "port", 8080, "Upstream port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if route.Name == "" {
		asked, err := scaffold.NewPrompter(stdin, stdout).AskRoute()
		if err != nil {
			return err
		}
		route = asked
	} else if route.Upstream == "" {
		route.Upstream = route.Name
	}

	path, err := scaffold.WriteGateway(dir, route)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s\n", path)
	return nil
}

// envFlags collects repeated -env KEY=VALUE flags.
type envFlags map[string]string

func (e *envFlags) String() string {
	return fmt.Sprint(map[string]string(*e))
}

func (e *envFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("%q is not KEY=VALUE", value)
	}
	if *e == nil {
		*e = make(envFlags)
	}
	(*e)[key] = val
	return nil
}
