package email

import (
	"bytes"
	"fmt"
	"html/template"
)

var inviteTemplate = template.Must(template.New("member_invite").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>You've been invited to HealthChat</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">Welcome to {{.OrgName}}</h1>
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
You've been added to the {{.OrgName}} team on HealthChat. Sign in with the
temporary password below and change it after your first login.
</p>
<p style="margin: 0 0 24px; font-family: monospace; font-size: 18px; background: #f0f0f0; padding: 12px; border-radius: 6px;">{{.TempPassword}}</p>
<a href="{{.LoginURL}}" style="display: inline-block; padding: 12px 32px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px; font-weight: 500;">
Sign In
</a>
<p style="margin: 24px 0 0; color: #999; font-size: 13px; line-height: 1.5;">
If you weren't expecting this invitation, you can safely ignore this email.
</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

// InviteData holds template data for the member invitation email.
type InviteData struct {
	OrgName      string
	TempPassword string
	LoginURL     string
}

// RenderInviteEmail renders the member invitation email in both HTML and
// plain-text forms.
func RenderInviteEmail(data InviteData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := inviteTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render invite template: %w", err)
	}

	textBody := fmt.Sprintf("Welcome to %s on HealthChat\n\nYour temporary password: %s\n\nSign in at %s and change it after your first login.\n\nIf you weren't expecting this invitation, ignore this email.",
		data.OrgName, data.TempPassword, data.LoginURL)

	return buf.String(), textBody, nil
}
