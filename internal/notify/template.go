package notify

import "html/template"

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="margin:0;padding:0;background:{{.Secondary}};font-family:Arial,Helvetica,sans-serif;color:#111827;">
<table role="presentation" width="100%" cellpadding="0" cellspacing="0">
<tr><td align="center" style="padding:24px;">
<table role="presentation" width="600" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;overflow:hidden;">
<tr><td style="background:{{.Primary}};color:#ffffff;padding:20px 24px;">
{{- if .LogoURL}}<img src="{{.LogoURL}}" alt="{{.ClientName}}" style="max-height:48px;display:block;margin-bottom:12px;">{{end}}
<h1 style="margin:0;font-size:20px;">{{.Heading}}</h1>
<p style="margin:4px 0 0;font-size:14px;">{{.FormName}}{{if .SubmittedAt}} &middot; {{.SubmittedAt}}{{end}}</p>
</td></tr>
{{- with .Contact}}{{if or .Name .Email .Phone .Postcode}}
<tr><td style="padding:16px 24px;border-bottom:1px solid #e5e7eb;">
<h2 style="margin:0 0 8px;font-size:16px;">Contact</h2>
{{if .Name}}<p style="margin:2px 0;"><strong>Name:</strong> {{.Name}}</p>{{end}}
{{if .Email}}<p style="margin:2px 0;"><strong>Email:</strong> <a href="mailto:{{.Email}}">{{.Email}}</a></p>{{end}}
{{if .Phone}}<p style="margin:2px 0;"><strong>Phone:</strong> {{.Phone}}</p>{{end}}
{{if .Postcode}}<p style="margin:2px 0;"><strong>Postcode:</strong> {{.Postcode}}</p>{{end}}
</td></tr>
{{- end}}{{end}}
<tr><td style="padding:16px 24px;">
<h2 style="margin:0 0 8px;font-size:16px;">Answers</h2>
<table role="presentation" width="100%" cellpadding="6" cellspacing="0">
{{- range .Lines}}
<tr>
<td valign="top" style="width:40%;font-weight:bold;border-bottom:1px solid #f3f4f6;">{{.Label}}</td>
<td valign="top" style="border-bottom:1px solid #f3f4f6;">
{{- if .Link}}<a href="{{.Link}}">{{.LinkText}}</a>{{if .Value}} ({{.Value}}){{end}}
{{- else if .Stars}}<span style="color:#f59e0b;font-size:18px;">{{.Value}}</span>
{{- else}}{{.Value}}{{if .ImageURL}}<br><img src="{{.ImageURL}}" alt="{{.Value}}" style="max-width:160px;margin-top:6px;">{{end}}{{end}}
</td>
</tr>
{{- end}}
</table>
</td></tr>
{{- if .ResponseID}}
<tr><td style="padding:12px 24px;font-size:12px;color:#6b7280;">Response ID: {{.ResponseID}}</td></tr>
{{- end}}
</table>
</td></tr>
</table>
</body>
</html>
`))
