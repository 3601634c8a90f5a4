package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/assessd/internal/content"
	"github.com/fyrsmithlabs/assessd/internal/events"
	"github.com/fyrsmithlabs/assessd/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	approvedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	rejectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226"))

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)
)

func statusBadge(s content.Status) string {
	if s == content.StatusApproved {
		return approvedStyle.Render("✓ approved")
	}
	return rejectedStyle.Render("✗ rejected")
}

func field(label string, value any) string {
	return labelStyle.Render(label+": ") + valueStyle.Render(fmt.Sprint(value))
}

// renderArtifact formats a full run artifact.
func renderArtifact(art *content.RunArtifact) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("run "+art.RunID) + " " + statusBadge(art.Final.Status) + "\n")
	b.WriteString(field("Topic", art.Input.Topic) + "  " + field("Grade", art.Input.Grade) + "\n")
	if art.RequesterID != "" {
		b.WriteString(field("User", art.RequesterID) + "\n")
	}
	b.WriteString(field("Attempts", len(art.Attempts)) + "  " +
		dimStyle.Render(fmt.Sprintf("%.2fs", art.Timestamps.DurationSeconds)) + "\n")

	b.WriteString(sectionStyle.Render("Reviews") + "\n")
	for _, a := range art.Attempts {
		line := fmt.Sprintf("#%d ", a.Index)
		if a.Review == nil {
			b.WriteString(line + dimStyle.Render("not reviewed") + "\n")
			continue
		}
		s := a.Review.Scores
		line += fmt.Sprintf("age=%d correctness=%d clarity=%d coverage=%d",
			s.AgeAppropriateness, s.Correctness, s.Clarity, s.Coverage)
		if a.Review.Pass {
			line += " " + approvedStyle.Render("pass")
		} else {
			line += " " + rejectedStyle.Render("fail")
		}
		b.WriteString(line + "\n")
	}
	if d, ok := art.Metadata["gate_divergence"]; ok {
		b.WriteString(warningStyle.Render("gate overrode reviewer: "+d) + "\n")
	}

	if art.Final.Status == content.StatusRejected {
		b.WriteString(sectionStyle.Render("Rejection") + "\n")
		b.WriteString(field("Reason", art.Final.RejectionReason) + "\n")
		for _, fb := range art.Final.Feedback {
			b.WriteString(renderFeedback(fb) + "\n")
		}
		return containerStyle.Render(strings.TrimRight(b.String(), "\n"))
	}

	if d := art.Final.Content; d != nil {
		b.WriteString(sectionStyle.Render("Explanation") + "\n")
		b.WriteString(d.Explanation.Text + "\n")
		b.WriteString(sectionStyle.Render("Questions") + "\n")
		for i, q := range d.MCQs {
			b.WriteString(fmt.Sprintf("%d. %s\n", i+1, q.Question))
			for j, opt := range q.Options {
				marker := "  "
				if j == q.CorrectIndex {
					marker = approvedStyle.Render("* ")
				}
				b.WriteString(fmt.Sprintf("   %s%c) %s\n", marker, 'a'+j, opt))
			}
		}
	}
	if t := art.Final.Tags; t != nil {
		b.WriteString(sectionStyle.Render("Tags") + "\n")
		b.WriteString(field("Subject", t.Subject) + "  " + field("Difficulty", t.Difficulty) + "  " +
			field("Bloom", t.BloomsLevel) + "\n")
		if len(t.Keywords) > 0 {
			b.WriteString(dimStyle.Render(strings.Join(t.Keywords, ", ")) + "\n")
		}
	}
	return containerStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderFeedback(fb content.Feedback) string {
	sev := string(fb.Severity)
	switch fb.Severity {
	case content.SeverityCritical:
		sev = rejectedStyle.Render(sev)
	case content.SeverityMajor:
		sev = warningStyle.Render(sev)
	default:
		sev = dimStyle.Render(sev)
	}
	return fmt.Sprintf("  [%s] %s %s", sev, labelStyle.Render(fb.Field), fb.Issue)
}

// renderList formats artifacts one per line.
func renderList(arts []content.RunArtifact) string {
	if len(arts) == 0 {
		return dimStyle.Render("no artifacts")
	}
	var b strings.Builder
	for _, a := range arts {
		reason := ""
		if a.Final.RejectionReason != "" {
			reason = " " + dimStyle.Render(a.Final.RejectionReason)
		}
		b.WriteString(fmt.Sprintf("%s  %s  %s %s%s\n",
			dimStyle.Render(a.Timestamps.StartedAt.Format("2006-01-02 15:04:05")),
			labelStyle.Render(a.RunID),
			statusBadge(a.Final.Status),
			valueStyle.Render(fmt.Sprintf("g%d %s", a.Input.Grade, a.Input.Topic)),
			reason,
		))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderStats formats outcome counts with reasons sorted by frequency.
func renderStats(st store.Stats) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("assessd stats") + "\n")
	b.WriteString(field("Total", st.Total) + "\n")
	b.WriteString(field("Approved", st.Approved) + "  " + field("Rejected", st.Rejected) + "\n")
	b.WriteString(field("Approval rate", fmt.Sprintf("%.1f%%", st.ApprovalRate*100)) + "\n")

	if len(st.ByReason) > 0 {
		reasons := make([]string, 0, len(st.ByReason))
		for r := range st.ByReason {
			reasons = append(reasons, r)
		}
		sort.Slice(reasons, func(i, j int) bool {
			if st.ByReason[reasons[i]] != st.ByReason[reasons[j]] {
				return st.ByReason[reasons[i]] > st.ByReason[reasons[j]]
			}
			return reasons[i] < reasons[j]
		})
		b.WriteString(sectionStyle.Render("Rejections") + "\n")
		for _, r := range reasons {
			b.WriteString(fmt.Sprintf("  %-28s %d\n", r, st.ByReason[r]))
		}
	}
	return containerStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// renderEvent formats one streamed run event.
func renderEvent(ev events.Event) string {
	line := fmt.Sprintf("%s  %s  %s %s",
		dimStyle.Render(ev.FinishedAt.Format("15:04:05")),
		labelStyle.Render(ev.RunID),
		statusBadge(ev.Status),
		valueStyle.Render(fmt.Sprintf("g%d %s", ev.Grade, ev.Topic)),
	)
	if ev.RejectionReason != "" {
		line += " " + dimStyle.Render(ev.RejectionReason)
	}
	return line
}
