package plot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBundlesMarshalShape(t *testing.T) {
	entries := []Entry{{Payload: Static{{"x": []int{1, 2}, "y": []int{3, 4}}}}}
	b, err := Marshal(Bundles(entries))
	require.NoError(t, err)
	require.JSONEq(t, `[{"data":[{"x":[1,2],"y":[3,4]}]}]`, string(b))
}

func TestBundleRoundTrip(t *testing.T) {
	in := []Bundle{{
		Data:   []Plot{{"type": "scatter", "x": []any{1.0, 2.0}, "y": []any{3.0, 4.0}}},
		Layout: Layout{"title": "round trip", "width": 640.0},
	}}
	b, err := Marshal(in)
	require.NoError(t, err)

	var out []Bundle
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, in, out)
}

func TestLiveBundleUsesLatestEmission(t *testing.T) {
	s := &chanStream{}
	e := Entry{Payload: NewLive(s), Layout: Layout{"title": "live"}}
	require.Equal(t, Bundle{Data: []Plot{}, Layout: Layout{"title": "live"}}, e.Bundle())

	s.latest = []Plot{{"y": []int{1}}}
	require.Equal(t, []Plot{{"y": []int{1}}}, e.Bundle().Data)
}
