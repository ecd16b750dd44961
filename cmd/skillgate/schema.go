package main

import (
	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/skillgate/pkg/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var schemaTypes = map[string]func() any{
	"decision": func() any { return &session.Decision{} },
	"turn":     func() any { return &session.Turn{} },
	"state":    func() any { return &session.State{} },
}

// generateSchema returns the JSON schema of one of the session API types.
func generateSchema(name string) (*jsonschema.Schema, error) {
	newValue, ok := schemaTypes[name]
	if !ok {
		return nil, errors.Errorf("unknown schema type %q (decision, turn or state)", name)
	}
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(newValue()), nil
}

var schemaCmd = &cobra.Command{
	Use:   "schema [decision|turn|state]",
	Short: "Print the JSON schema of a session API type",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "decision"
		if len(args) == 1 {
			name = args[0]
		}
		schema, err := generateSchema(name)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), schema)
	},
}
