package auth

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"strings"

	"hospital/models"
	"hospital/utils"
)

const verificationSubject = "Email Verification - Hospital Management System"

var verificationHTML = template.Must(template.New("verification").Parse(`<p>Dear {{.Username}},</p>
<p>Thank you for signing up. Please click the link below to verify your email address:</p>
<p><a href="{{.Link}}">Verify Your Email</a></p>
<p>If the link doesn't work, you can complete verification by visiting:</p>
<p>{{.ManualURL}}</p>
<p>And entering your User ID: {{.ID}} and token: {{.Token}}</p>
<p><strong>This is an automatically generated email. Please do not reply.</strong></p>
<p>Regards,</p>
<p>Hospital Management System</p>
`))

// VerificationMessage composes the mail that carries the verification link and the
// manual-entry fallback.
func VerificationMessage(baseURL string, user *models.User, token string) (utils.Message, error) {
	manual, err := url.JoinPath(baseURL, "verify")
	if err != nil {
		return utils.Message{}, fmt.Errorf("bad base url %q: %w", baseURL, err)
	}
	query := url.Values{}
	query.Set("id", strconv.FormatInt(user.ID, 10))
	query.Set("token", token)
	link := manual + "?" + query.Encode()

	data := struct {
		Username  string
		Link      string
		ManualURL string
		ID        int64
		Token     string
	}{user.Username, link, manual, user.ID, token}

	var html bytes.Buffer
	if err := verificationHTML.Execute(&html, data); err != nil {
		return utils.Message{}, err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Dear %s,\n\n", user.Username)
	fmt.Fprintf(&text, "Verify your email address by opening:\n%s\n\n", link)
	fmt.Fprintf(&text, "Or visit %s and enter your User ID: %d and token: %s\n", manual, user.ID, token)

	return utils.Message{
		To:      user.Email,
		Subject: verificationSubject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
