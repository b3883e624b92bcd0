package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"smis/internal/student"
)

const dateLayout = "2006-01-02"

// recordFlags binds the editable student fields to command flags.
type recordFlags struct {
	name, reg, course, email, phone string
	address, dob, gender, emergency string
	notes                           string
}

func (f *recordFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "full name")
	fl.StringVar(&f.reg, "reg", "", "registration number")
	fl.StringVar(&f.course, "course", "", "course")
	fl.StringVar(&f.email, "email", "", "email address")
	fl.StringVar(&f.phone, "phone", "", "phone number")
	fl.StringVar(&f.address, "address", "", "postal address")
	fl.StringVar(&f.dob, "dob", "", "date of birth (YYYY-MM-DD)")
	fl.StringVar(&f.gender, "gender", "", "gender")
	fl.StringVar(&f.emergency, "emergency-contact", "", "emergency contact")
	fl.StringVar(&f.notes, "notes", "", "free-form notes")
}

// apply copies the flags the user actually set onto r.
func (f *recordFlags) apply(cmd *cobra.Command, r *student.Record) error {
	set := func(flag string, dst *string, v string) {
		if cmd.Flags().Changed(flag) {
			*dst = strings.TrimSpace(v)
		}
	}
	set("name", &r.Name, f.name)
	set("reg", &r.RegistrationNumber, f.reg)
	set("course", &r.Course, f.course)
	set("email", &r.Email, f.email)
	set("phone", &r.Phone, f.phone)
	set("address", &r.Address, f.address)
	set("gender", &r.Gender, f.gender)
	set("emergency-contact", &r.EmergencyContact, f.emergency)
	set("notes", &r.Notes, f.notes)
	if cmd.Flags().Changed("dob") {
		ms, err := parseDate(f.dob)
		if err != nil {
			return err
		}
		r.DateOfBirth = ms
	}
	return nil
}

func parseDate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t.UnixMilli(), nil
}

func (c *cli) addCmd() *cobra.Command {
	var f recordFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a student",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec student.Record
			if err := f.apply(cmd, &rec); err != nil {
				return err
			}
			if err := student.Validate(rec); err != nil {
				return err
			}
			id, err := c.app.Repo.Add(cmd.Context(), rec).Get()
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(map[string]string{"id": id})
			}
			fmt.Fprintln(c.out, id)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List students ordered by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit > 0 || offset > 0 {
				page, err := c.app.Repo.GetPaginated(cmd.Context(), limit, offset).Get()
				if err != nil {
					return err
				}
				return c.printRecords(page)
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			snap, ok := <-c.app.Repo.ListAll(ctx)
			if !ok {
				return cmd.Context().Err()
			}
			return c.printRecords(snap)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "page size; 0 lists everything")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one student, fetching it from the backend if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := c.app.Repo.GetByID(cmd.Context(), args[0]).Get()
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("student %s not found", args[0])
			}
			return c.printRecord(*rec)
		},
	}
}

func (c *cli) editCmd() *cobra.Command {
	var f recordFlags
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change fields of a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := c.app.Repo.GetByID(cmd.Context(), args[0]).Get()
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("student %s not found", args[0])
			}
			before := *rec
			if err := f.apply(cmd, rec); err != nil {
				return err
			}
			if student.SameContent(before, *rec) {
				fmt.Fprintln(c.errOut, "nothing to change for", rec.ID)
				return nil
			}
			if err := student.Validate(*rec); err != nil {
				return err
			}
			if err := c.app.Repo.Update(cmd.Context(), *rec).Err(); err != nil {
				return err
			}
			fmt.Fprintln(c.errOut, "updated", rec.ID)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete ID...",
		Aliases: []string{"rm"},
		Short:   "Delete students locally and on the backends",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := c.app.Repo.Delete(cmd.Context(), args[0]).Err(); err != nil {
					return err
				}
				fmt.Fprintln(c.errOut, "deleted", args[0])
				return nil
			}
			n, err := c.app.Repo.DeleteMany(cmd.Context(), args).Get()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.errOut, "deleted %d of %d students\n", n, len(args))
			return nil
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	var fuzzy bool
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search by name, registration number, course or email",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, err := c.app.Repo.Search(cmd.Context(), strings.Join(args, " "), fuzzy).Get()
			if err != nil {
				return err
			}
			return c.printRecords(hits)
		},
	}
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "tolerate typos in names")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Add students from a JSON array or a CSV file with a header row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var recs []student.Record
			if strings.EqualFold(filepath.Ext(args[0]), ".csv") {
				recs, err = readCSV(f)
			} else {
				err = json.NewDecoder(f).Decode(&recs)
			}
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			for i, r := range recs {
				if err := student.Validate(r); err != nil {
					return fmt.Errorf("record %d: %w", i+1, err)
				}
			}
			n, err := c.app.Repo.AddBatch(cmd.Context(), recs).Get()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "imported %d students\n", n)
			return nil
		},
	}
}

// readCSV maps header names (the JSON field names) onto records. Unknown
// columns are ignored.
func readCSV(r io.Reader) ([]student.Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	var recs []student.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
		var rec student.Record
		for i, col := range header {
			if i >= len(row) {
				break
			}
			v := strings.TrimSpace(row[i])
			switch strings.TrimSpace(col) {
			case "name":
				rec.Name = v
			case "registrationNumber":
				rec.RegistrationNumber = v
			case "course":
				rec.Course = v
			case "email":
				rec.Email = v
			case "phone":
				rec.Phone = v
			case "address":
				rec.Address = v
			case "gender":
				rec.Gender = v
			case "emergencyContact":
				rec.EmergencyContact = v
			case "notes":
				rec.Notes = v
			case "dateOfBirth":
				if rec.DateOfBirth, err = parseDate(v); err != nil {
					return nil, err
				}
			}
		}
		recs = append(recs, rec)
	}
}

func (c *cli) photoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "photo ID FILE",
		Short: "Upload a profile photo for a student",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			url, err := c.app.Repo.UploadPhoto(cmd.Context(), args[0], data).Get()
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, url)
			return nil
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the student list every time it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			for snap := range c.app.Repo.ListAll(ctx) {
				if !c.asJSON {
					fmt.Fprintf(c.out, "-- %s, %d students\n", time.Now().Format(time.TimeOnly), len(snap))
				}
				if err := c.printRecords(snap); err != nil {
					return err
				}
				if once {
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first snapshot")
	return cmd
}
