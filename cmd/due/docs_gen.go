package main

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/dotsetgreg/due/pkg/action"
	"github.com/dotsetgreg/due/pkg/config"
	"github.com/spf13/cobra"
)

func newDocsCommand() *cobra.Command {
	docsRoot := &cobra.Command{
		Use:    "docs",
		Short:  "Internal docs maintenance commands",
		Hidden: true,
	}

	docsRoot.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the config reference as markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := buildConfigReferenceMarkdown()
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), ref)
			return err
		},
	})
	docsRoot.AddCommand(&cobra.Command{
		Use:   "actions",
		Short: "Print the builtin action reference as markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := buildActionsReferenceMarkdown(builtinActions(nil))
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), ref)
			return err
		},
	})
	return docsRoot
}

type configFieldRow struct {
	Path    string
	Type    string
	Env     string
	Default string
}

func buildConfigReferenceMarkdown() (string, error) {
	defaults, err := flattenConfigDefaults()
	if err != nil {
		return "", err
	}

	rows := []configFieldRow{}
	collectConfigRows(reflect.TypeOf(config.Config{}), "", defaults, &rows)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })

	var b strings.Builder
	b.WriteString("# Config Reference\n\n")
	b.WriteString("Generated from `pkg/config/config.go` and `config.DefaultConfig()`.\n\n")
	b.WriteString("| Key | Type | Env Var | Default |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, row := range rows {
		b.WriteString("| `" + escapePipes(row.Path) + "` | `" + escapePipes(row.Type) + "` | `" + escapePipes(valueOr(row.Env, "-")) + "` | `" + escapePipes(valueOr(row.Default, "-")) + "` |\n")
	}
	return b.String(), nil
}

func collectConfigRows(t reflect.Type, prefix string, defaults map[string]string, rows *[]configFieldRow) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		jsonTag := strings.TrimSpace(strings.Split(f.Tag.Get("json"), ",")[0])
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		path := jsonTag
		if prefix != "" {
			path = prefix + "." + jsonTag
		}

		if f.Type.Kind() == reflect.Struct {
			collectConfigRows(f.Type, path, defaults, rows)
			continue
		}

		*rows = append(*rows, configFieldRow{
			Path:    path,
			Type:    friendlyType(f.Type),
			Env:     strings.TrimSpace(f.Tag.Get("env")),
			Default: defaults[path],
		})
	}
}

func flattenConfigDefaults() (map[string]string, error) {
	data, err := json.Marshal(config.DefaultConfig())
	if err != nil {
		return nil, err
	}
	var root map[string]interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	out := map[string]string{}
	flattenMapValues("", root, out)
	return out, nil
}

func flattenMapValues(prefix string, v interface{}, out map[string]string) {
	typed, ok := v.(map[string]interface{})
	if !ok {
		encoded, _ := json.Marshal(v)
		out[prefix] = string(encoded)
		return
	}
	for k, child := range typed {
		next := k
		if prefix != "" {
			next = prefix + "." + k
		}
		flattenMapValues(next, child, out)
	}
}

func friendlyType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.Slice:
		return "array<" + friendlyType(t.Elem()) + ">"
	case reflect.Map:
		return "map<" + friendlyType(t.Key()) + "," + friendlyType(t.Elem()) + ">"
	default:
		return t.String()
	}
}

func buildActionsReferenceMarkdown(reg *action.Registry) (string, error) {
	var b strings.Builder
	b.WriteString("# Action Reference\n\n")
	b.WriteString("| Action | Mode | Description | Parameters |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, def := range reg.Definitions() {
		params := "-"
		if def.Parameters != nil && len(def.Parameters.Properties) > 0 {
			names := make([]string, 0, len(def.Parameters.Properties))
			for name := range def.Parameters.Properties {
				names = append(names, name)
			}
			sort.Strings(names)
			params = strings.Join(names, ", ")
		}
		mode := def.Mode
		if mode == "" {
			mode = action.ModeSync
		}
		b.WriteString(fmt.Sprintf("| `%s` | %s | %s | %s |\n",
			escapePipes(def.Name), mode, escapePipes(valueOr(def.Description, "-")), escapePipes(params)))
	}
	return b.String(), nil
}

func escapePipes(v string) string {
	return strings.ReplaceAll(v, "|", "\\|")
}
