package mail

import (
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	m := (&SMTPMailer{Host: "smtp.example.com", Port: "587", Sender: "billing@example.com"}).
		WithSendFunc(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
			assert.Nil(t, a)
			return nil
		})

	require.NoError(t, m.Send("alice@example.com", "Tier upgraded", RenderNotification("Gold <active>", "Enjoy")))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "billing@example.com", gotFrom)
	assert.Equal(t, []string{"alice@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Tier upgraded\r\n")
	assert.Contains(t, string(gotMsg), "<h2>Gold &lt;active&gt;</h2>")
}

func TestSendRejectsHeaderInjection(t *testing.T) {
	m := (&SMTPMailer{Host: "smtp.example.com"}).WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("must not send")
		return nil
	})
	assert.Error(t, m.Send("a@example.com\r\nBcc: x@example.com", "hi", "body"))
}

func TestSendErrors(t *testing.T) {
	assert.Error(t, (&SMTPMailer{}).Send("a@example.com", "s", "b"))

	m := (&SMTPMailer{Host: "smtp.example.com", Username: "u", Password: "p"}).
		WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") })
	assert.ErrorContains(t, m.Send("a@example.com", "s", "b"), "refused")
}
