// Package prompt wraps promptui for the interactive parts of the CLI.
package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err means the user gave up on the prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, ErrAborted)
}

func wrap(err error) error {
	if err != nil && IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Confirm asks a yes/no question. An empty answer picks def.
func Confirm(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	p := promptui.Prompt{
		Label: fmt.Sprintf("%s [%s]", label, hint),
		Validate: func(in string) error {
			switch strings.ToLower(strings.TrimSpace(in)) {
			case "", "y", "yes", "n", "no":
				return nil
			}
			return errors.New("answer y or n")
		},
	}
	answer, err := p.Run()
	if err != nil {
		return false, wrap(err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Input asks for free text, prefilled with def.
func Input(label, def string) (string, error) {
	p := promptui.Prompt{Label: label, Default: def}
	v, err := p.Run()
	return strings.TrimSpace(v), wrap(err)
}

// InputRequired asks for non-empty text.
func InputRequired(label, def string) (string, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: def,
		Validate: func(in string) error {
			if strings.TrimSpace(in) == "" {
				return errors.New("a value is required")
			}
			return nil
		},
	}
	v, err := p.Run()
	return strings.TrimSpace(v), wrap(err)
}

// InputPort asks for a TCP port in 1-65535.
func InputPort(label string, def int) (int, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: strconv.Itoa(def),
		Validate: func(in string) error {
			n, err := strconv.Atoi(strings.TrimSpace(in))
			if err != nil || n < 1 || n > 65535 {
				return errors.New("must be a port between 1 and 65535")
			}
			return nil
		},
	}
	v, err := p.Run()
	if err != nil {
		return 0, wrap(err)
	}
	n, _ := strconv.Atoi(strings.TrimSpace(v))
	return n, nil
}

// Option is one entry of a Select list.
type Option struct {
	Label       string
	Value       string
	Description string
}

// Select asks the user to pick one option and returns its Value.
func Select(label string, options []Option) (string, error) {
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "* {{ .Label | green }}",
		Details:  `{{ with .Description }}{{ "Description:" | faint }} {{ . }}{{ end }}`,
	}
	p := promptui.Select{
		Label:     label,
		Items:     options,
		Templates: templates,
		Size:      len(options),
	}
	i, _, err := p.Run()
	if err != nil {
		return "", wrap(err)
	}
	return options[i].Value, nil
}
