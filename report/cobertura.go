package report

import (
	"encoding/xml"
	"fmt"

	"github.com/pkg/errors"

	"github.com/crytic/covrec/coverage"
)

// coberturaRoot mirrors the subset of the Cobertura XML schema covrec actually populates: one <class> per source
// file, one <line> per covered/instrumented source line, with aggregate rates derived from the per-line values.
// This is a value-mapping writer only, not a general Cobertura producer.
type coberturaRoot struct {
	XMLName    xml.Name         `xml:"coverage"`
	LineRate   string           `xml:"line-rate,attr"`
	BranchRate string           `xml:"branch-rate,attr"`
	Packages   coberturaPkgList `xml:"packages"`
}

type coberturaPkgList struct {
	Packages []coberturaPackage `xml:"package"`
}

type coberturaPackage struct {
	Name     string            `xml:"name,attr"`
	LineRate string            `xml:"line-rate,attr"`
	Classes  coberturaClasList `xml:"classes"`
}

type coberturaClasList struct {
	Classes []coberturaClass `xml:"class"`
}

type coberturaClass struct {
	Name     string           `xml:"name,attr"`
	Filename string           `xml:"filename,attr"`
	LineRate string           `xml:"line-rate,attr"`
	Lines    coberturaLinList `xml:"lines"`
}

type coberturaLinList struct {
	Lines []coberturaLine `xml:"line"`
}

type coberturaLine struct {
	Number string `xml:"number,attr"`
	Hits   string `xml:"hits,attr"`
}

// WriteCobertura renders sc as Cobertura XML, one <class> per file.
func WriteCobertura(sc *coverage.SourceCoverage) ([]byte, error) {
	root := coberturaRoot{}

	var totalLines, totalHit int
	for _, path := range sc.SortedFiles() {
		fc := sc.Files[path]
		lines := fc.SortedLines()

		class := coberturaClass{Name: path, Filename: path}
		var fileHit int
		for _, line := range lines {
			count := fc.Lines[line]
			hits := uint32(count)
			if hits > 0 {
				fileHit++
			}
			class.Lines.Lines = append(class.Lines.Lines, coberturaLine{
				Number: fmt.Sprintf("%d", line),
				Hits:   fmt.Sprintf("%d", hits),
			})
		}
		class.LineRate = lineRate(fileHit, len(lines))
		root.Packages.Packages = append(root.Packages.Packages, coberturaPackage{
			Name:     path,
			LineRate: class.LineRate,
			Classes:  coberturaClasList{Classes: []coberturaClass{class}},
		})

		totalLines += len(lines)
		totalHit += fileHit
	}
	root.LineRate = lineRate(totalHit, totalLines)
	root.BranchRate = "0" // no branch-level data in this data model; block-level-only coverage is not emitted here.

	data, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding cobertura report")
	}
	return append([]byte(xml.Header), data...), nil
}

func lineRate(hit, total int) string {
	if total == 0 {
		return "0"
	}
	return fmt.Sprintf("%.4f", float64(hit)/float64(total))
}
