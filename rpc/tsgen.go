package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// DefaultManifestExport is the const name RenderTypeScript exports the
// endpoint metadata under when none is given.
const DefaultManifestExport = "rpcEndpointMeta"

// RenderTypeScript emits a TypeScript module for endpoints: the metadata
// array, a method union, one args interface per endpoint derived from its
// params, and the response envelope shape.
func RenderTypeScript(endpoints []Endpoint, exportName string) ([]byte, error) {
	if strings.TrimSpace(exportName) == "" {
		exportName = DefaultManifestExport
	}

	sorted := make([]Endpoint, len(endpoints))
	copy(sorted, endpoints)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Method < sorted[j].Method
	})

	metaJSON, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal endpoint metadata: %w", err)
	}

	methodUnion := "never"
	if len(sorted) > 0 {
		quoted := make([]string, 0, len(sorted))
		for _, endpoint := range sorted {
			quoted = append(quoted, tsQuote(endpoint.Method))
		}
		methodUnion = strings.Join(quoted, " | ")
	}

	var out bytes.Buffer
	out.WriteString("/*\n")
	out.WriteString(" * Generated by sonarfit-bridge endpoints --format ts. Do not edit.\n")
	out.WriteString(" */\n\n")
	out.WriteString("export interface RPCParamMeta {\n")
	out.WriteString("  name: string;\n")
	out.WriteString("  type: string;\n")
	out.WriteString("  required?: boolean;\n")
	out.WriteString("  default?: unknown;\n")
	out.WriteString("  enum?: string[];\n")
	out.WriteString("}\n\n")
	out.WriteString("export interface RPCEndpointMeta {\n")
	out.WriteString("  method: string;\n")
	out.WriteString("  handlerKind: \"execute\" | \"query\" | string;\n")
	out.WriteString("  timeout: number;\n")
	out.WriteString("  idempotent: boolean;\n")
	out.WriteString("  params?: RPCParamMeta[];\n")
	out.WriteString("  summary?: string;\n")
	out.WriteString("  description?: string;\n")
	out.WriteString("  tags?: string[];\n")
	out.WriteString("  deprecated?: boolean;\n")
	out.WriteString("  since?: string;\n")
	out.WriteString("}\n\n")
	out.WriteString("export interface RPCErrorEnvelope {\n")
	out.WriteString("  code: string;\n")
	out.WriteString("  message: string;\n")
	out.WriteString("  category?: string;\n")
	out.WriteString("  retryable?: boolean;\n")
	out.WriteString("  details?: Record<string, unknown>;\n")
	out.WriteString("}\n\n")
	out.WriteString("export interface RPCResponseEnvelope<TData = unknown> {\n")
	out.WriteString("  data?: TData;\n")
	out.WriteString("  error?: RPCErrorEnvelope;\n")
	out.WriteString("  notImplemented?: boolean;\n")
	out.WriteString("}\n\n")
	fmt.Fprintf(&out, "export const %s: RPCEndpointMeta[] = ", exportName)
	out.Write(metaJSON)
	out.WriteString(";\n\n")
	fmt.Fprintf(&out, "export type RPCMethod = %s;\n\n", methodUnion)

	var byMethod bytes.Buffer
	for _, endpoint := range sorted {
		name := argsInterfaceName(endpoint.Method)
		fmt.Fprintf(&out, "export interface %s {\n", name)
		for _, param := range endpoint.Params {
			optional := "?"
			if param.Required {
				optional = ""
			}
			fmt.Fprintf(&out, "  %s%s: %s;\n", param.Name, optional, tsType(param))
		}
		out.WriteString("}\n\n")
		fmt.Fprintf(&byMethod, "  %s: %s;\n", tsQuote(endpoint.Method), name)
	}

	out.WriteString("export type RPCArgsByMethod = {\n")
	out.Write(byMethod.Bytes())
	out.WriteString("};\n")

	return out.Bytes(), nil
}

func tsType(param Param) string {
	if len(param.Enum) > 0 {
		quoted := make([]string, 0, len(param.Enum))
		for _, value := range param.Enum {
			quoted = append(quoted, tsQuote(value))
		}
		return strings.Join(quoted, " | ")
	}
	switch strings.ToLower(param.Type) {
	case "string":
		return "string"
	case "int", "float", "number":
		return "number"
	case "bool", "boolean":
		return "boolean"
	default:
		return "unknown"
	}
}

// argsInterfaceName turns "presentWorkout" into "PresentWorkoutArgs".
func argsInterfaceName(method string) string {
	var b strings.Builder
	upper := true
	for _, r := range method {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	b.WriteString("Args")
	return b.String()
}

func tsQuote(value string) string {
	encoded, _ := json.Marshal(value)
	return string(encoded)
}
