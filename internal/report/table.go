package report

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pinchtab/mapcheck/internal/inspect"
)

// Table renders rows under headers in the layout shared by every table the
// tool prints.
func Table(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.AppendBulk(rows)
	table.Render()
}

// FillTable prints a fill colour distribution.
func FillTable(w io.Writer, dist []inspect.FillCount) {
	rows := make([][]string, 0, len(dist))
	for _, fc := range dist {
		fill := fc.Fill
		if fill == "" {
			fill = "(none)"
		}
		rows = append(rows, []string{fill, strconv.Itoa(fc.Count)})
	}
	Table(w, []string{"Fill", "Shapes"}, rows)
}
