package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Zip-packaged XML formats. Office Open XML (docx, pptx) keeps text in
// <w:t>/<a:t> elements; OpenDocument (odp, ods) in <text:p>/<text:span>/
// <text:h>. Matching the text elements directly instead of parsing the full
// schema keeps real-world files with arbitrary attributes working.
var (
	wtTag    = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	atTag    = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	odfTextP = regexp.MustCompile(`<text:(?:p|span|h)[^>]*>([^<]*)</text:(?:p|span|h)>`)
)

const (
	docxDocumentXMLPath = "word/document.xml"
	pptxSlidePrefix     = "ppt/slides/slide"
	odfContentPath      = "content.xml"
)

// readZipFile returns the named file's bytes from the archive, or nil when
// absent.
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return buf.Bytes(), nil
	}
	return nil, nil
}

// joinMatches concatenates the first submatch of every match, space
// separated.
func joinMatches(re *regexp.Regexp, s string) string {
	var b strings.Builder
	for _, p := range re.FindAllStringSubmatch(s, -1) {
		part := strings.TrimSpace(p[1])
		if part == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(part)
	}
	return b.String()
}

// groupsDOCX extracts the whole document body of a .docx as a single group.
func groupsDOCX(content []byte) ([]TextGroup, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	docXML, err := readZipFile(zr, docxDocumentXMLPath)
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: %w", err)
	}
	if docXML == nil {
		return nil, fmt.Errorf("extract DOCX: %s not found", docxDocumentXMLPath)
	}
	text := joinMatches(wtTag, string(docXML))
	if text == "" {
		return nil, nil
	}
	return []TextGroup{{Text: text}}, nil
}

// groupsPPTX extracts one group per non-empty slide, tagged with the slide
// number taken from the slide file name.
func groupsPPTX(content []byte) ([]TextGroup, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract PPTX: not a zip: %w", err)
	}
	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, pptxSlidePrefix) || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		data, err := readZipFile(zr, f.Name)
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: %w", err)
		}
		text := joinMatches(atTag, string(data))
		if text == "" {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(f.Name, pptxSlidePrefix), ".xml")
		num, err := strconv.Atoi(numStr)
		if err != nil {
			num = len(slides) + 1
		}
		slides = append(slides, slide{num: num, text: text})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })
	groups := make([]TextGroup, 0, len(slides))
	for _, s := range slides {
		groups = append(groups, TextGroup{
			Text:     s.text,
			Metadata: map[string]string{"slide": strconv.Itoa(s.num)},
		})
	}
	return groups, nil
}

// groupsODF extracts the content.xml text of an OpenDocument file (odp, ods)
// as a single group. kind names the format in errors.
func groupsODF(content []byte, kind string) ([]TextGroup, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", kind, err)
	}
	contentXML, err := readZipFile(zr, odfContentPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", kind, err)
	}
	if contentXML == nil {
		return nil, fmt.Errorf("extract %s: %s not found", kind, odfContentPath)
	}
	text := joinMatches(odfTextP, string(contentXML))
	if text == "" {
		return nil, nil
	}
	return []TextGroup{{Text: text}}, nil
}
