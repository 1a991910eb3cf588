package notifier

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"attendbot-backend/lib/scrapers/nietcloud"
)

// Classification maps an overall percentage onto the fixed reporting
// bands. Presentation-only, but the thresholds and texts are part of
// the output contract.
type Classification struct {
	Icon  string
	Label string
	Color string
	Quote string
}

func Classify(percent float64) Classification {
	switch {
	case percent >= 90:
		return Classification{"🏆", "LEGEND", "#6A1B9A", "Untouchable. Keep ruling."}
	case percent >= 75:
		return Classification{"✅", "SAFE", "#388E3C", "On track. Stay consistent."}
	case percent >= 60:
		return Classification{"⚠️", "LOW", "#F57C00", "Slipping. Attend everything this week."}
	default:
		return Classification{"🚨", "CRITICAL", "#D32F2F", "Danger zone. Every class counts now."}
	}
}

func statusColor(status nietcloud.DayStatus) string {
	switch status {
	case nietcloud.StatusPresent:
		return "#388E3C"
	case nietcloud.StatusAbsent:
		return "#D32F2F"
	case nietcloud.StatusError:
		return "#F57C00"
	}
	return "#9E9E9E"
}

type Report struct {
	Subject string
	HTML    string
}

type reportRow struct {
	Name        string
	Count       string
	PercentText string
	Low         bool
	HasStatus   bool
	Status      string
	StatusColor string
}

type reportData struct {
	Class       Classification
	OverallText string
	Attended    int
	Delivered   int
	TargetDate  string
	Rows        []reportRow
	Total       *reportRow
}

var reportTemplate = template.Must(template.New("report").Parse(`
<div style="font-family:sans-serif;max-width:540px;margin:auto;border:1px solid #ddd;padding:20px;border-radius:10px;">
	<h2 style="color:{{.Class.Color}};text-align:center;">{{.Class.Icon}} {{.Class.Label}}: {{.OverallText}}</h2>
	<p style="text-align:center;color:#555;">{{.Class.Quote}}</p>
	<p style="text-align:center;font-weight:bold;">Attended {{.Attended}} / {{.Delivered}} classes overall</p>
	<table style="width:100%;border-collapse:collapse;">
		<tr style="background-color:#f5f5f5;">
			<th style="text-align:left;padding:5px;">Subject</th>
			<th style="text-align:right;padding:5px;">Count</th>
			<th style="text-align:right;padding:5px;">%</th>
			<th style="text-align:center;padding:5px;">{{.TargetDate}}</th>
		</tr>
		{{range .Rows}}
		<tr style="border-bottom:1px solid #eee;{{if .Low}}color:#D32F2F;{{end}}">
			<td style="padding:5px;">{{.Name}}</td>
			<td style="text-align:right;padding:5px;">{{.Count}}</td>
			<td style="text-align:right;padding:5px;">{{.PercentText}}%</td>
			<td style="text-align:center;padding:5px;">
				{{if .HasStatus}}<span style="color:{{.StatusColor}};font-weight:bold;">{{.Status}}</span>{{else}}&mdash;{{end}}
			</td>
		</tr>
		{{end}}
		{{with .Total}}
		<tr style="background-color:#e8f5e9;font-weight:bold;">
			<td style="padding:5px;">{{.Name}}</td>
			<td style="text-align:right;padding:5px;">{{.Count}}</td>
			<td style="text-align:right;padding:5px;">{{.PercentText}}%</td>
			<td></td>
		</tr>
		{{end}}
	</table>
	<p style="text-align:center;color:#aaa;font-size:10px;margin-top:20px;">Attendance Bot &middot; reply STOP by just ignoring us</p>
</div>
`))

// BuildReport renders the daily notification. Pure: no network, no
// state.
func BuildReport(snapshot nietcloud.Snapshot, statuses map[string]nietcloud.DayStatus, target time.Time) (Report, error) {
	class := Classify(snapshot.Overall)
	attended, delivered := snapshot.TotalAttended()

	data := reportData{
		Class:       class,
		OverallText: snapshot.OverallText,
		Attended:    attended,
		Delivered:   delivered,
		TargetDate:  target.Format("Jan 2"),
	}
	for _, subject := range snapshot.Subjects {
		row := reportRow{
			Name:        subject.Name,
			Count:       subject.Count,
			PercentText: subject.PercentText,
			Low:         subject.Low(),
		}
		if status, ok := statuses[subject.Name]; ok && status != nietcloud.StatusUnknown {
			row.HasStatus = true
			row.Status = status.String()
			row.StatusColor = statusColor(status)
		}
		data.Rows = append(data.Rows, row)
	}
	if snapshot.Total != nil {
		data.Total = &reportRow{
			Name:        snapshot.Total.Name,
			Count:       snapshot.Total.Count,
			PercentText: snapshot.Total.PercentText,
		}
	}

	var body bytes.Buffer
	err := reportTemplate.Execute(&body, data)
	if err != nil {
		return Report{}, err
	}

	return Report{
		Subject: fmt.Sprintf("%s %s: %s", class.Icon, class.Label, snapshot.OverallText),
		HTML:    body.String(),
	}, nil
}

var deactivationTemplate = template.Must(template.New("deactivated").Parse(`
<div style="font-family:sans-serif;max-width:540px;margin:auto;border:1px solid #ddd;padding:20px;border-radius:10px;">
	<h2 style="color:#D32F2F;text-align:center;">🔒 Daily reports paused</h2>
	<p>We could not log in to the portal as <b>{{.CollegeID}}</b> three times in a row,
	so your account has been deactivated. This usually means your portal password changed.</p>
	<p>To resume daily reports, register again with your current credentials.</p>
	<p style="text-align:center;color:#aaa;font-size:10px;margin-top:20px;">Attendance Bot</p>
</div>
`))

// BuildDeactivationNotice is the one-time email sent on the third
// strike.
func BuildDeactivationNotice(collegeID string) (Report, error) {
	var body bytes.Buffer
	err := deactivationTemplate.Execute(&body, struct{ CollegeID string }{collegeID})
	if err != nil {
		return Report{}, err
	}
	return Report{
		Subject: "🔒 Attendance reports paused: please re-register",
		HTML:    body.String(),
	}, nil
}
