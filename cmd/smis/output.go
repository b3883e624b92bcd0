package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"smis/internal/student"
)

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderer styles for c.out; colours are dropped when it is not a terminal.
func (c *cli) renderer() *lipgloss.Renderer {
	return lipgloss.NewRenderer(c.out)
}

func (c *cli) printRecords(recs []student.Record) error {
	if c.asJSON {
		if recs == nil {
			recs = []student.Record{}
		}
		return c.printJSON(recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(c.out, "no students")
		return nil
	}
	re := c.renderer()
	header := re.NewStyle().Bold(true).Padding(0, 1)
	cell := re.NewStyle().Padding(0, 1)
	pending := cell.Foreground(lipgloss.Color("3"))

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(re.NewStyle().Faint(true)).
		Headers("ID", "REG NO", "NAME", "COURSE", "EMAIL", "SYNCED").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case col == 5 && !recs[row].IsSynced:
				return pending
			}
			return cell
		})
	for _, r := range recs {
		t.Row(r.ID, r.RegistrationNumber, r.Name, r.Course, r.Email, yesNo(r.IsSynced))
	}
	_, err := fmt.Fprintln(c.out, t.String())
	return err
}

func (c *cli) printRecord(r student.Record) error {
	if c.asJSON {
		return c.printJSON(r)
	}
	label := c.renderer().NewStyle().Bold(true).Width(19)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintln(c.out, label.Render(k+":")+v)
		}
	}
	row("ID", r.ID)
	row("Name", r.Name)
	row("Registration", r.RegistrationNumber)
	row("Course", r.Course)
	row("Email", r.Email)
	row("Phone", r.Phone)
	row("Address", r.Address)
	if r.DateOfBirth != 0 {
		row("Date of birth", time.UnixMilli(r.DateOfBirth).UTC().Format(dateLayout))
	}
	row("Gender", r.Gender)
	row("Emergency contact", r.EmergencyContact)
	row("Notes", r.Notes)
	row("Photo", r.PhotoURL)
	row("Remote ID", r.RemoteID)
	row("Synced", yesNo(r.IsSynced))
	row("Updated", time.UnixMilli(r.UpdatedAt).Format(time.RFC3339))
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
