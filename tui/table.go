package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Column represents a table column
type Column struct {
	Title string
	Width int
}

// Row represents a table row
type Row []string

// Table renders data in a styled table format
type Table struct {
	title   string
	noun    string
	columns []Column
	rows    []Row
	styles  *Styles
}

// NewTable creates a table. title heads the output and noun names the rows
// in the trailing total line.
func NewTable(title, noun string, columns []Column) *Table {
	return &Table{
		title:   title,
		noun:    noun,
		columns: columns,
		styles:  DefaultStyles(),
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(row Row) {
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render renders the table as a string
func (t *Table) Render() string {
	var b strings.Builder

	if t.title != "" {
		b.WriteString(t.styles.Title.Render(t.title) + "\n\n")
	}

	if len(t.rows) == 0 {
		b.WriteString(t.styles.Muted.Render(fmt.Sprintf("  No %s found", t.noun)) + "\n")
		return b.String()
	}

	headerCells := make([]string, len(t.columns))
	for i, col := range t.columns {
		headerCells[i] = t.styles.TableHeader.Width(col.Width).Render(col.Title)
	}
	b.WriteString(strings.Join(headerCells, " ") + "\n")

	for _, col := range t.columns {
		b.WriteString(t.styles.Muted.Render(strings.Repeat("─", col.Width)) + " ")
	}
	b.WriteString("\n")

	for _, row := range t.rows {
		rowCells := make([]string, len(t.columns))
		for i, col := range t.columns {
			var cell string
			if i < len(row) {
				cell = truncate(row[i], col.Width)
			}
			rowCells[i] = lipgloss.NewStyle().Width(col.Width).Render(cell)
		}
		b.WriteString(strings.Join(rowCells, " ") + "\n")
	}

	b.WriteString(fmt.Sprintf("\n%s %d %s\n", t.styles.Muted.Render("Total:"), len(t.rows), t.noun))
	return b.String()
}

// truncate shortens s to width display cells, marking the cut with "..".
func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width || width < 3 {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r))+2 > width {
		r = r[:len(r)-1]
	}
	return string(r) + ".."
}

// AcqRow is one acquisition for table display.
type AcqRow struct {
	Name    string
	Inst    string
	Type    string
	Files   int
	Comment string
}

// RenderAcqsTable renders a table of acquisitions.
func RenderAcqsTable(acqs []AcqRow) string {
	t := NewTable("Acquisitions", "acquisitions", []Column{
		{Title: "NAME", Width: 34},
		{Title: "INST", Width: 10},
		{Title: "TYPE", Width: 10},
		{Title: "FILES", Width: 7},
		{Title: "COMMENT", Width: 24},
	})
	for _, a := range acqs {
		t.AddRow(Row{a.Name, a.Inst, a.Type, fmt.Sprint(a.Files), a.Comment})
	}
	return t.Render()
}

// FileRow is one archive file for table display. Size is negative when
// unknown.
type FileRow struct {
	AcqName string
	Name    string
	Type    string
	Size    int64
	MD5Sum  string
}

// RenderFilesTable renders a table of archive files.
func RenderFilesTable(files []FileRow) string {
	t := NewTable("Archive Files", "files", []Column{
		{Title: "ACQUISITION", Width: 30},
		{Title: "FILE", Width: 24},
		{Title: "TYPE", Width: 12},
		{Title: "SIZE", Width: 10},
		{Title: "MD5", Width: 32},
	})
	for _, f := range files {
		size := "-"
		if f.Size >= 0 {
			size = FormatBytes(f.Size)
		}
		md5 := f.MD5Sum
		if md5 == "" {
			md5 = "-"
		}
		t.AddRow(Row{f.AcqName, f.Name, f.Type, size, md5})
	}
	return t.Render()
}

// CopyRow is one file copy for table display. HasFile and WantsFile are the
// long state names ("present", "keep", ...).
type CopyRow struct {
	Path       string
	Node       string
	HasFile    string
	WantsFile  string
	LastUpdate string
}

// RenderCopiesTable renders a table of file copies.
func RenderCopiesTable(copies []CopyRow) string {
	styles := DefaultStyles()
	t := NewTable("File Copies", "copies", []Column{
		{Title: "HAS", Width: 3},
		{Title: "PATH", Width: 44},
		{Title: "NODE", Width: 14},
		{Title: "STATE", Width: 9},
		{Title: "WANTS", Width: 8},
		{Title: "UPDATED", Width: 19},
	})
	for _, c := range copies {
		t.AddRow(Row{styles.StatusIcon(c.HasFile), c.Path, c.Node, c.HasFile, c.WantsFile, c.LastUpdate})
	}
	return t.Render()
}

// NodeRow is one storage node for table display. AvailGB is negative when
// the free space has never been measured.
type NodeRow struct {
	Name        string
	Group       string
	Host        string
	Root        string
	StorageType string
	Active      bool
	AvailGB     float64
}

// RenderNodesTable renders a table of storage nodes.
func RenderNodesTable(nodes []NodeRow) string {
	styles := DefaultStyles()
	t := NewTable("Storage Nodes", "nodes", []Column{
		{Title: "UP", Width: 3},
		{Title: "NODE", Width: 16},
		{Title: "GROUP", Width: 14},
		{Title: "HOST", Width: 14},
		{Title: "ROOT", Width: 28},
		{Title: "TYPE", Width: 5},
		{Title: "AVAIL", Width: 10},
	})
	for _, n := range nodes {
		status := "inactive"
		if n.Active {
			status = "active"
		}
		avail := "-"
		if n.AvailGB >= 0 {
			avail = fmt.Sprintf("%.1f GB", n.AvailGB)
		}
		t.AddRow(Row{styles.StatusIcon(status), n.Name, n.Group, n.Host, n.Root, n.StorageType, avail})
	}
	return t.Render()
}
