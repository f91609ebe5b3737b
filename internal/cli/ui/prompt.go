package ui

import (
	"sort"

	"github.com/AlecAivazis/survey/v2"

	"github.com/conduit-lang/namedquery/internal/query/conversion"
	"github.com/conduit-lang/namedquery/internal/query/mapping"
)

// Prompter asks the user for values
type Prompter interface {
	Input(message, help string, validate func(string) error) (string, error)
	Select(message string, options []string) (string, error)
	Confirm(message string) (bool, error)
}

// SurveyPrompter prompts on the terminal
type SurveyPrompter struct{}

// Input asks for free text
func (SurveyPrompter) Input(message, help string, validate func(string) error) (string, error) {
	var answer string
	prompt := &survey.Input{Message: message, Help: help}
	var opts []survey.AskOpt
	if validate != nil {
		opts = append(opts, survey.WithValidator(func(ans interface{}) error {
			s, _ := ans.(string)
			return validate(s)
		}))
	}
	err := survey.AskOne(prompt, &answer, opts...)
	return answer, err
}

// Select asks for one of options
func (SurveyPrompter) Select(message string, options []string) (string, error) {
	var answer string
	err := survey.AskOne(&survey.Select{Message: message, Options: options}, &answer)
	return answer, err
}

// Confirm asks a yes/no question
func (SurveyPrompter) Confirm(message string) (bool, error) {
	var answer bool
	err := survey.AskOne(&survey.Confirm{Message: message}, &answer)
	return answer, err
}

// AskParams prompts for every declared parameter in name order. Blank
// answers leave the parameter unset; other answers must convert to the
// declared type.
func AskParams(p Prompter, schema map[string]mapping.ParamType) (map[string]interface{}, error) {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make(map[string]interface{}, len(names))
	for _, name := range names {
		t := schema[name]
		switch t.Base {
		case mapping.TypeEnum:
			answer, err := p.Select(name+":", t.Values)
			if err != nil {
				return nil, err
			}
			params[name] = answer
		case mapping.TypeBool:
			answer, err := p.Confirm(name + "?")
			if err != nil {
				return nil, err
			}
			params[name] = answer
		default:
			answer, err := p.Input(name+":", "type "+t.String()+", leave blank to omit", func(s string) error {
				if s == "" {
					return nil
				}
				_, err := conversion.Convert(s, t)
				return err
			})
			if err != nil {
				return nil, err
			}
			if answer != "" {
				params[name] = answer
			}
		}
	}
	return params, nil
}
