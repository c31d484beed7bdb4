package tools

import (
	"context"
	"fmt"
	"time"
)

// RegisterBuiltins adds the tools shipped with the engine.
func RegisterBuiltins(r *Registry) error {
	builtins := []Definition{
		{
			Name:        "current_time",
			Description: "Returns the current time, optionally in a given IANA timezone",
			Parameters: []Parameter{
				{Name: "timezone", Type: "string", Description: "IANA timezone name, e.g. Asia/Jakarta", Required: false, Default: "UTC"},
			},
			Handler: currentTimeHandler,
		},
		{
			Name:        "echo",
			Description: "Returns its input unchanged, for connectivity checks",
			Parameters: []Parameter{
				{Name: "message", Type: "string", Description: "Text to echo back", Required: true},
			},
			Handler: echoHandler,
		},
	}

	for _, def := range builtins {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func currentTimeHandler(_ context.Context, args map[string]interface{}) (interface{}, error) {
	tz := "UTC"
	if v, ok := args["timezone"].(string); ok && v != "" {
		tz = v
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", tz)
	}

	return map[string]interface{}{
		"timezone": tz,
		"time":     time.Now().In(loc).Format(time.RFC3339),
	}, nil
}

func echoHandler(_ context.Context, args map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"message": args["message"],
	}, nil
}
