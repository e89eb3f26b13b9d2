package scaffold

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Prompter asks questions on out and reads answers line by line from in.
type Prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewPrompter creates a prompter.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewScanner(in), out: out}
}

// Ask returns the trimmed answer, or def when the answer is empty.
func (p *Prompter) Ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}

	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	answer := strings.TrimSpace(p.in.Text())
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// AskRequired repeats the question until it gets a non-empty answer.
func (p *Prompter) AskRequired(question string) (string, error) {
	for {
		answer, err := p.Ask(question, "")
		if err != nil {
			return "", err
		}
		if answer != "" {
			return answer, nil
		}
		fmt.Fprintln(p.out, "A value is required.")
	}
}

// AskInt repeats the question until the answer is an integer.
func (p *Prompter) AskInt(question string, def int) (int, error) {
	for {
		answer, err := p.Ask(question, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err == nil {
			return n, nil
		}
		fmt.Fprintf(p.out, "%q is not a number.\n", answer)
	}
}

// AskService collects a compose service definition. Environment variables
// are read as KEY=VALUE lines until an empty line.
func (p *Prompter) AskService() (Service, error) {
	var (
		svc Service
		err error
	)
	if svc.Name, err = p.AskRequired("Service name"); err != nil {
		return svc, err
	}
	if svc.Image, err = p.Ask("Image", svc.Name+":latest"); err != nil {
		return svc, err
	}
	port, err := p.AskInt("Container port", 8080)
	if err != nil {
		return svc, err
	}
	svc.Ports = []string{fmt.Sprintf("%d:%d", port, port)}
	if svc.Restart, err = p.Ask("Restart policy", "unless-stopped"); err != nil {
		return svc, err
	}

	fmt.Fprintln(p.out, "Environment (KEY=VALUE, empty line to finish):")
	for {
		line, err := p.Ask("  env", "")
		if err != nil {
			return svc, err
		}
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			fmt.Fprintf(p.out, "%q is not KEY=VALUE.\n", line)
			continue
		}
		if svc.Environment == nil {
			svc.Environment = make(map[string]string)
		}
		svc.Environment[key] = value
	}
	return svc, nil
}

// AskRoute collects a gateway route.
func (p *Prompter) AskRoute() (Route, error) {
	var (
		route Route
		err   error
	)
	if route.Name, err = p.AskRequired("Route name"); err != nil {
		return route, err
	}
	if route.PathPrefix, err = p.Ask("Path prefix", "/"+route.Name+"/"); err != nil {
		return route, err
	}
	if route.Upstream, err = p.Ask("Upstream host", route.Name); err != nil {
		return route, err
	}
	if route.Port, err = p.AskInt("Upstream port", 8080); err != nil {
		return route, err
	}
	if err := route.validate(); err != nil {
		return route, errors.Join(errors.New("invalid route"), err)
	}
	return route, nil
}
