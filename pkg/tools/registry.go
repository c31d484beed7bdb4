package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Handler is the uniform signature every registered tool implements.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Parameter declares one argument of a tool.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Definition declares a tool's metadata and handler.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Registry maps tool names to definitions. It is populated by explicit
// Register calls during startup and read-only afterwards, so lookups need
// no locking.
type Registry struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger,
	}
}

// Register adds a tool. Startup only; a duplicate name is a programming error.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %q: %w", def.Name, err)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	r.logger.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Get returns a tool definition, or nil when unknown.
func (r *Registry) Get(name string) *Definition {
	return r.tools[name]
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MissingRequired returns the names of required parameters absent from args,
// sorted for deterministic error messages.
func (r *Registry) MissingRequired(name string, args map[string]interface{}) []string {
	def := r.tools[name]
	if def == nil {
		return nil
	}

	var missing []string
	for _, p := range def.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Unexpected returns argument names the tool does not declare. Extra
// arguments are tolerated; callers log them and proceed.
func (r *Registry) Unexpected(name string, args map[string]interface{}) []string {
	def := r.tools[name]
	if def == nil {
		return nil
	}

	declared := make(map[string]bool, len(def.Parameters))
	for _, p := range def.Parameters {
		declared[p.Name] = true
	}

	var extra []string
	for arg := range args {
		if !declared[arg] {
			extra = append(extra, arg)
		}
	}
	sort.Strings(extra)
	return extra
}

// ValidateArgs checks declared arguments against the tool's JSON Schema.
// Undeclared extras are stripped before validation so they cannot fail it.
func (r *Registry) ValidateArgs(name string, args map[string]interface{}) error {
	schema := r.schemas[name]
	if schema == nil {
		return nil
	}

	declared := args
	if extras := r.Unexpected(name, args); len(extras) > 0 {
		declared = make(map[string]interface{}, len(args))
		for k, v := range args {
			declared[k] = v
		}
		for _, extra := range extras {
			delete(declared, extra)
		}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(declared))
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errs []string
		for _, resultErr := range result.Errors() {
			errs = append(errs, resultErr.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

// ParameterSchema returns the JSON Schema object describing a tool's
// arguments, or nil for an unknown tool. The same schema drives local
// validation and remote function registration.
func (r *Registry) ParameterSchema(name string) map[string]interface{} {
	def := r.tools[name]
	if def == nil {
		return nil
	}
	return schemaObject(def)
}

func schemaObject(def *Definition) map[string]interface{} {
	properties := make(map[string]interface{})
	var required []string

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type": param.Type,
		}
		if param.Description != "" {
			paramSchema["description"] = param.Description
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaObject(&def)))
}
