package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type credentials struct {
	Username string `json:"username" validate:"required,max=16"`
	Password string `json:"password" validate:"required,min=4"`
	Contact  string `json:"contact,omitempty" validate:"omitempty,email"`
	Note     string `validate:"omitempty,oneof=a b"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name       string
		input      credentials
		wantFields map[string]string
	}{
		{
			name:  "valid",
			input: credentials{Username: "alice", Password: "secret"},
		},
		{
			name:  "missing fields use json names",
			input: credentials{},
			wantFields: map[string]string{
				"username": "username is required",
				"password": "password is required",
			},
		},
		{
			name:       "too long",
			input:      credentials{Username: strings.Repeat("a", 17), Password: "secret"},
			wantFields: map[string]string{"username": "username must be at most 16"},
		},
		{
			name:       "too short",
			input:      credentials{Username: "alice", Password: "abc"},
			wantFields: map[string]string{"password": "password must be at least 4"},
		},
		{
			name:       "bad email",
			input:      credentials{Username: "alice", Password: "secret", Contact: "nope"},
			wantFields: map[string]string{"contact": "contact must be a valid email"},
		},
		{
			name:       "untagged field keeps go name",
			input:      credentials{Username: "alice", Password: "secret", Note: "c"},
			wantFields: map[string]string{"Note": "Note validation failed on 'oneof' tag"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if tt.wantFields == nil {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Equal(t, "Validation failed", err.Error())
			assert.Equal(t, tt.wantFields, GetValidationFields(err))
		})
	}
}

func TestValidateStruct_NonStruct(t *testing.T) {
	err := ValidateStruct("not a struct")
	require.Error(t, err)
	assert.False(t, IsValidationError(err))
}

func TestGetValidationFields(t *testing.T) {
	fields := map[string]string{"username": "username is required"}
	assert.Equal(t, fields, GetValidationFields(&ValidationError{Message: "x", Fields: fields}))
	assert.Nil(t, GetValidationFields(assert.AnError))
	assert.False(t, IsValidationError(assert.AnError))
}
