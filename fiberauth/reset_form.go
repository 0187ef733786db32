package fiberauth

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

var resetFormTemplate = template.Must(template.New("reset_password_form").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Reset password</title></head>
<body>
  <h1>Reset your password</h1>
  <form method="post" action="{{.Action}}">
    <input type="hidden" name="token" value="{{.Token}}">
    <label for="new_password">New password</label>
    <input type="password" id="new_password" name="new_password" minlength="6" maxlength="72" required>
    <button type="submit">Reset password</button>
  </form>
</body>
</html>
`))

// ResetPasswordForm serves the page linked from password reset emails
func (a *Controller) ResetPasswordForm(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return fiber.NewError(http.StatusBadRequest, "missing token")
	}

	var buf bytes.Buffer
	err := resetFormTemplate.Execute(&buf, map[string]string{
		"Action": a.Routes.ResetPassword,
		"Token":  token,
	})
	if err != nil {
		return err
	}

	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}
