package draft

import (
	"regexp"
	"slices"
	"strings"
)

// Verification outcome form identifiers used as Key.FormType.
const (
	FormResidencePositive             = "residence-positive"
	FormResidenceShifted              = "residence-shifted"
	FormResidenceNSP                  = "residence-nsp"
	FormResidenceEntryRestricted      = "residence-entry-restricted"
	FormResidenceUntraceable          = "residence-untraceable"
	FormOfficePositive                = "office-positive"
	FormOfficeShifted                 = "office-shifted"
	FormOfficeNSP                     = "office-nsp"
	FormOfficeEntryRestricted         = "office-entry-restricted"
	FormOfficeUntraceable             = "office-untraceable"
	FormBusinessPositive              = "business-positive"
	FormBusinessShifted               = "business-shifted"
	FormBusinessNSP                   = "business-nsp"
	FormBusinessEntryRestricted       = "business-entry-restricted"
	FormBusinessUntraceable           = "business-untraceable"
	FormBuilderPositive               = "builder-positive"
	FormBuilderShifted                = "builder-shifted"
	FormBuilderNSP                    = "builder-nsp"
	FormBuilderEntryRestricted        = "builder-entry-restricted"
	FormBuilderUntraceable            = "builder-untraceable"
	FormResiCumOfficePositive         = "residence-cum-office-positive"
	FormResiCumOfficeShifted          = "residence-cum-office-shifted"
	FormResiCumOfficeNSP              = "residence-cum-office-nsp"
	FormResiCumOfficeRestricted       = "residence-cum-office-entry-restricted"
	FormResiCumOfficeUntraceable      = "residence-cum-office-untraceable"
	FormNOCPositive                   = "noc-positive"
	FormNOCShifted                    = "noc-shifted"
	FormNOCNSP                        = "noc-nsp"
	FormNOCEntryRestricted            = "noc-entry-restricted"
	FormNOCUntraceable                = "noc-untraceable"
	FormPropertyIndividualPositive    = "property-individual-positive"
	FormPropertyIndividualNSP         = "property-individual-nsp"
	FormPropertyIndividualRestricted  = "property-individual-entry-restricted"
	FormPropertyIndividualUntraceable = "property-individual-untraceable"
	FormPropertyAPFPositiveNegative   = "property-apf-positive-negative"
	FormPropertyAPFEntryRestricted    = "property-apf-entry-restricted"
	FormPropertyAPFUntraceable        = "property-apf-untraceable"
	FormDSAPositive                   = "dsa-positive"
	FormDSAShifted                    = "dsa-shifted"
	FormDSANSP                        = "dsa-nsp"
	FormDSAEntryRestricted            = "dsa-entry-restricted"
	FormDSAUntraceable                = "dsa-untraceable"
)

var formTypes = []string{
	FormResidencePositive, FormResidenceShifted, FormResidenceNSP, FormResidenceEntryRestricted, FormResidenceUntraceable,
	FormOfficePositive, FormOfficeShifted, FormOfficeNSP, FormOfficeEntryRestricted, FormOfficeUntraceable,
	FormBusinessPositive, FormBusinessShifted, FormBusinessNSP, FormBusinessEntryRestricted, FormBusinessUntraceable,
	FormBuilderPositive, FormBuilderShifted, FormBuilderNSP, FormBuilderEntryRestricted, FormBuilderUntraceable,
	FormResiCumOfficePositive, FormResiCumOfficeShifted, FormResiCumOfficeNSP, FormResiCumOfficeRestricted, FormResiCumOfficeUntraceable,
	FormNOCPositive, FormNOCShifted, FormNOCNSP, FormNOCEntryRestricted, FormNOCUntraceable,
	FormPropertyIndividualPositive, FormPropertyIndividualNSP, FormPropertyIndividualRestricted, FormPropertyIndividualUntraceable,
	FormPropertyAPFPositiveNegative, FormPropertyAPFEntryRestricted, FormPropertyAPFUntraceable,
	FormDSAPositive, FormDSAShifted, FormDSANSP, FormDSAEntryRestricted, FormDSAUntraceable,
}

// FormTypes returns every known form type in registry order.
func FormTypes() []string {
	return slices.Clone(formTypes)
}

// IsKnownFormType reports whether formType is in the registry.
func IsKnownFormType(formType string) bool {
	return slices.Contains(formTypes, formType)
}

var whitespace = regexp.MustCompile(`\s+`)

// FormTypeFor derives a form type from a verification type and outcome,
// e.g. ("Residence", "Entry Restricted") -> "residence-entry-restricted".
func FormTypeFor(verificationType, outcome string) string {
	normalize := func(s string) string {
		return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	}
	return normalize(verificationType) + "-" + normalize(outcome)
}
