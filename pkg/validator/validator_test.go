package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type generated struct {
	Subject string `validate:"required,max=200"`
	Body    string `validate:"required"`
}

func TestValidate(t *testing.T) {
	v := New()
	assert.NoError(t, v.Validate(generated{Subject: "Hi", Body: "Hello"}))

	err := v.Validate(generated{Subject: "Hi"})
	assert.EqualError(t, err, "body failed required")
}

func TestValidateField(t *testing.T) {
	v := New()
	assert.NoError(t, v.ValidateField("email", "ada@example.com", "required", "email"))
	assert.EqualError(t, v.ValidateField("email", "nope", "required", "email"), "email failed email")
}
