package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTypeScript(t *testing.T) {
	endpoints := []Endpoint{
		{
			Method:      "presentWorkout",
			HandlerKind: HandlerKindExecute,
			Params: []Param{
				{Name: "workoutType", Type: "string", Required: true, Enum: []string{"squat", "deadlift"}},
				{Name: "sets", Type: "int", Required: true},
				{Name: "autoReLift", Type: "bool", Default: true},
				{Name: "extra", Type: "map"},
			},
		},
		{Method: "initialize", HandlerKind: HandlerKindExecute, Params: []Param{{Name: "apiKey", Type: "string", Required: true}}},
	}

	out, err := RenderTypeScript(endpoints, "")
	require.NoError(t, err)
	ts := string(out)

	assert.Contains(t, ts, "export const rpcEndpointMeta: RPCEndpointMeta[] = ")
	assert.Contains(t, ts, `export type RPCMethod = "initialize" | "presentWorkout";`)
	assert.Contains(t, ts, "export interface InitializeArgs {\n  apiKey: string;\n}")
	assert.Contains(t, ts, `  workoutType: "squat" | "deadlift";`)
	assert.Contains(t, ts, "  sets: number;")
	assert.Contains(t, ts, "  autoReLift?: boolean;")
	assert.Contains(t, ts, "  extra?: unknown;")
	assert.Contains(t, ts, `  "presentWorkout": PresentWorkoutArgs;`)
}

func TestRenderTypeScriptEmpty(t *testing.T) {
	out, err := RenderTypeScript(nil, "meta")
	require.NoError(t, err)
	assert.Contains(t, string(out), "export const meta: RPCEndpointMeta[] = []")
	assert.Contains(t, string(out), "export type RPCMethod = never;")
}

func TestArgsInterfaceName(t *testing.T) {
	assert.Equal(t, "PresentWorkoutArgs", argsInterfaceName("presentWorkout"))
	assert.Equal(t, "WorkoutStartArgs", argsInterfaceName("workout.start"))
}
