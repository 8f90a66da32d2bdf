package schema

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(bucket string, data map[string]any) map[string]any {
	return map[string]any{
		"version":        3,
		"study_name":     "button-color",
		"branch":         "red",
		"addon_version":  "1.0.0",
		"shield_version": "5.3.0",
		"type":           bucket,
		"testing":        true,
		"data":           data,
	}
}

func TestNew_RegistersEmbeddedSchemas(t *testing.T) {
	t.Parallel()

	v, err := New()

	require.NoError(t, err)
	assert.Equal(t, []string{ShieldStudy, ShieldStudyAddon, ShieldStudyError, StudySetup}, v.Names())
}

func TestValidateNamed_Buckets(t *testing.T) {
	t.Parallel()

	v := MustNew()

	tests := []struct {
		name      string
		bucket    string
		data      map[string]any
		wantValid bool
	}{
		{
			name:      "study state ping",
			bucket:    ShieldStudy,
			data:      map[string]any{"study_state": "enter"},
			wantValid: true,
		},
		{
			name:      "ending ping with fullname",
			bucket:    ShieldStudy,
			data:      map[string]any{"study_state": "ended-neutral", "study_state_fullname": "too-popular"},
			wantValid: true,
		},
		{
			name:      "unknown study state",
			bucket:    ShieldStudy,
			data:      map[string]any{"study_state": "sleeping"},
			wantValid: false,
		},
		{
			name:      "addon attributes are strings",
			bucket:    ShieldStudyAddon,
			data:      map[string]any{"attributes": map[string]any{"clicks": "3"}},
			wantValid: true,
		},
		{
			name:      "addon attribute with a number",
			bucket:    ShieldStudyAddon,
			data:      map[string]any{"attributes": map[string]any{"clicks": 3}},
			wantValid: false,
		},
		{
			name:      "addon data without attributes",
			bucket:    ShieldStudyAddon,
			data:      map[string]any{"clicks": "3"},
			wantValid: false,
		},
		{
			name:      "error report",
			bucket:    ShieldStudyError,
			data:      map[string]any{"error_id": "x", "error_source": "addon", "severity": "fatal"},
			wantValid: true,
		},
		{
			name:      "error report missing source",
			bucket:    ShieldStudyError,
			data:      map[string]any{"error_id": "x"},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			res, err := v.ValidateNamed(envelope(tt.bucket, tt.data), tt.bucket)

			// Assert
			require.NoError(t, err, "mismatches are reported as data, not errors")
			assert.Equal(t, tt.wantValid, res.Valid)
			if tt.wantValid {
				assert.Empty(t, res.Errors)
			} else {
				assert.NotEmpty(t, res.Errors)
				assert.NotEmpty(t, res.Summary())
			}
		})
	}
}

func TestValidateNamed_WrongTypeDiscriminator(t *testing.T) {
	t.Parallel()

	v := MustNew()
	doc := envelope(ShieldStudyAddon, map[string]any{"study_state": "enter"})

	res, err := v.ValidateNamed(doc, ShieldStudy)

	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestValidateNamed_UnknownSchema(t *testing.T) {
	t.Parallel()

	_, err := MustNew().ValidateNamed(map[string]any{}, "nope")

	assert.ErrorIs(t, err, ErrUnknownSchema)
}

func TestValidate_AdHocSchema(t *testing.T) {
	t.Parallel()

	v := MustNew()
	doc := `{"type":"object","required":["a"],"properties":{"a":{"type":"integer"}}}`

	ok, err := v.Validate(map[string]any{"a": 1}, doc)
	require.NoError(t, err)
	assert.True(t, ok.Valid)

	bad, err := v.Validate(map[string]any{"a": "one"}, []byte(doc))
	require.NoError(t, err)
	assert.False(t, bad.Valid)
	require.Len(t, bad.Errors, 1)
	assert.Equal(t, "/a", bad.Errors[0].InstanceLocation)

	// Non-raw schema documents are encoded first.
	structured := map[string]any{"type": "string"}
	res, err := v.Validate("hello", structured)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidate_MalformedSchemaIsAnError(t *testing.T) {
	t.Parallel()

	_, err := MustNew().Validate(map[string]any{}, `{"type": 12}`)

	assert.Error(t, err, "a broken schema is a library-level fault")
}

func TestValidateOrError(t *testing.T) {
	t.Parallel()

	v := MustNew()
	valid := map[string]any{
		"activeExperimentName": "button-color",
		"studyType":            "shield",
		"weightedVariations":   []any{map[string]any{"name": "red", "weight": 1}},
		"endings":              map[string]any{},
		"telemetry":            map[string]any{"send": false, "removeTestingFlag": false},
		"allowEnroll":          true,
	}
	assert.NoError(t, v.ValidateOrError(valid, StudySetup))

	invalid := map[string]any{"activeExperimentName": "button-color"}
	err := v.ValidateOrError(invalid, StudySetup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "study-setup validation failed")
}

func TestDocument(t *testing.T) {
	t.Parallel()

	raw, err := MustNew().Document(ShieldStudyError)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"error_source"`)

	_, err = MustNew().Document("missing")
	assert.ErrorIs(t, err, ErrUnknownSchema)
}

func TestValidate_AdHocCacheIsBounded(t *testing.T) {
	t.Parallel()

	// Arrange
	v := MustNew(WithAdhocCapacity(16))
	defer v.Close()

	// Act
	for i := range 500 {
		doc := fmt.Sprintf(`{"type":"object","title":"t%d"}`, i)
		res, err := v.Validate(map[string]any{}, doc)
		require.NoError(t, err)
		require.True(t, res.Valid)
	}

	// Assert
	require.Eventually(t, func() bool {
		return v.adhoc.Size() <= 16
	}, 2*time.Second, 10*time.Millisecond, "cache must stay within its capacity")

	res, err := v.Validate("not an object", `{"type":"object","title":"t0"}`)
	require.NoError(t, err)
	assert.False(t, res.Valid, "evicted schemas are compiled again")
}

func TestWithAdhocCapacity_IgnoresNonPositive(t *testing.T) {
	t.Parallel()

	v := MustNew(WithAdhocCapacity(0))
	defer v.Close()

	assert.Equal(t, DefaultAdhocCapacity, v.adhocCapacity)
}
