package simulation

import (
	"fmt"
	"strings"
	"time"

	"github.com/san-kum/odectl/internal/native"
	"github.com/san-kum/odectl/internal/simerr"
)

type Language = native.ExportLanguage

const (
	LanguageMatlab Language = native.ExportMatlab
	LanguageCpp    Language = native.ExportCpp
	LanguageR      Language = native.ExportR
)

func ParseLanguage(name string) (Language, error) {
	switch strings.ToLower(name) {
	case "matlab", "m":
		return LanguageMatlab, nil
	case "cpp", "c++":
		return LanguageCpp, nil
	case "r":
		return LanguageR, nil
	}
	return 0, fmt.Errorf("unknown export language: %s", name)
}

// ExportMode selects symbolic formulas or numeric values in exported code.
type ExportMode int

const (
	ExportFormula ExportMode = iota
	ExportValues
)

// ExportToCode writes the finalized equation system as source code to
// outDir/baseName with the language's file extension.
func (s *Simulation) ExportToCode(outDir, baseName string, lang Language, mode ExportMode) (err error) {
	const op = "export"
	start := time.Now()
	defer func() { err = s.observe(op, start, err) }()

	if err := s.require(op, StateFinalized, StateRunComplete); err != nil {
		return err
	}
	st := s.h.eng.ExportToCode(s.h.id, lang, outDir, baseName, mode == ExportFormula)
	return st.Err(simerr.KindExport, op)
}

// SimulationXMLString returns the loaded model document. It requires
// KeepXMLNodeAsString to be set before Load.
func (s *Simulation) SimulationXMLString() (string, error) {
	const op = "simulation_xml"
	if err := s.requireLoaded(op); err != nil {
		return "", err
	}
	doc, st := s.h.eng.SimulationXMLString(s.h.id)
	if err := st.Err(simerr.KindEngine, op); err != nil {
		return "", err
	}
	return doc, nil
}

func (s *Simulation) ContainsPersistableParameters() (bool, error) {
	const op = "contains_persistable_parameters"
	if err := s.requireLoaded(op); err != nil {
		return false, err
	}
	ok, st := s.h.eng.ContainsPersistableParameters(s.h.id)
	if err := st.Err(simerr.KindEngine, op); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Simulation) XMLVersion() (int, error) {
	if err := s.requireLoaded("xml_version"); err != nil {
		return 0, err
	}
	return s.h.eng.XMLVersion(s.h.id), nil
}

func (s *Simulation) ObjectPathDelimiter() (string, error) {
	if err := s.requireLoaded("object_path_delimiter"); err != nil {
		return "", err
	}
	return s.h.eng.ObjectPathDelimiter(s.h.id), nil
}
