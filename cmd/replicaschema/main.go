// The replicaschema binary writes a JSON schema describing the JSON
// documents the replication wire messages carry, for tooling that
// inspects captures or authors scene files.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/entity"
	"github.com/BrandonThompson0789/CPSI-27703-Intro-to-Game-Programming-Fall-2025-Starter-sub001/internal/replication"
)

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	schema, err := buildSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build schema: %v\n", err)
		os.Exit(1)
	}

	if err := writeSchema(outPath, schema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

func buildSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	bodySchema := reflector.ReflectFromType(reflect.TypeOf(entity.BodyState{}))
	if bodySchema == nil {
		return nil, fmt.Errorf("failed to reflect body schema")
	}
	bodySchema.Version = ""
	bodySchema.Title = "Body Facet"
	bodySchema.Description = "Positional state restated by object updates; absent fields leave the mirrored value untouched."

	entrySchema := reflector.ReflectFromType(reflect.TypeOf(replication.EntityRecord{}))
	if entrySchema == nil {
		return nil, fmt.Errorf("failed to reflect entity record schema")
	}
	entrySchema.Version = ""
	entrySchema.Title = "Entity Record"
	entrySchema.Description = "One replicated entity as carried by init packages and create messages."
	if entrySchema.Properties != nil {
		entrySchema.Properties.Set("body", bodySchema)
		for _, facet := range []string{"visual", "audio", "cameraAnchor"} {
			entrySchema.Properties.Set(facet, &jsonschema.Schema{
				Type:        "object",
				Description: "Opaque facet blob owned by the game; replicated verbatim.",
			})
		}
	}

	blockSchema := &jsonschema.Schema{
		Type:        "array",
		Title:       "Snapshot Entity Block",
		Description: "The decompressed entity block of an init package.",
		Items:       entrySchema,
	}

	root := &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Replication Payloads",
		Description: "JSON documents carried inside the replication wire messages.",
		OneOf: []*jsonschema.Schema{
			blockSchema,
			entrySchema,
			bodySchema,
		},
	}
	return root, nil
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
