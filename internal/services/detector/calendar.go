package detector

import (
	"strings"
	"time"

	"github.com/6tail/lunar-go/HolidayUtil"
	"github.com/6tail/lunar-go/calendar"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/at"
	"github.com/rickar/cal/v2/au"
	"github.com/rickar/cal/v2/be"
	"github.com/rickar/cal/v2/br"
	"github.com/rickar/cal/v2/ca"
	"github.com/rickar/cal/v2/ch"
	"github.com/rickar/cal/v2/de"
	"github.com/rickar/cal/v2/dk"
	"github.com/rickar/cal/v2/es"
	"github.com/rickar/cal/v2/fi"
	"github.com/rickar/cal/v2/fr"
	"github.com/rickar/cal/v2/gb"
	"github.com/rickar/cal/v2/ie"
	"github.com/rickar/cal/v2/it"
	"github.com/rickar/cal/v2/jp"
	"github.com/rickar/cal/v2/nl"
	"github.com/rickar/cal/v2/no"
	"github.com/rickar/cal/v2/nz"
	"github.com/rickar/cal/v2/pl"
	"github.com/rickar/cal/v2/pt"
	"github.com/rickar/cal/v2/se"
	"github.com/rickar/cal/v2/us"
)

// CountryNone disables public holidays; only weekends count.
const CountryNone = "NONE"

// HolidayCalendar answers "is this a day off" for a site's country. It feeds
// the is_holiday behavioural feature.
type HolidayCalendar struct {
	calendars map[string]*cal.BusinessCalendar
}

func NewHolidayCalendar() *HolidayCalendar {
	h := &HolidayCalendar{calendars: make(map[string]*cal.BusinessCalendar)}
	for _, c := range supportedCountries {
		if len(c.holidays) > 0 {
			bc := cal.NewBusinessCalendar()
			bc.Name = c.Name
			bc.AddHoliday(c.holidays...)
			h.calendars[c.Code] = bc
		}
	}
	return h
}

// IsHoliday reports whether t is a weekend or public holiday in country.
// Unknown codes and CountryNone fall back to weekends only.
func (h *HolidayCalendar) IsHoliday(t time.Time, country string) bool {
	country = strings.ToUpper(strings.TrimSpace(country))
	switch country {
	case "CN":
		return !isWorkdayChina(t)
	case "", CountryNone:
		return cal.IsWeekend(t)
	}
	c, ok := h.calendars[country]
	if !ok {
		return cal.IsWeekend(t)
	}
	return !c.IsWorkday(t)
}

// China shifts working days around its holidays, so weekends can be workdays.
func isWorkdayChina(t time.Time) bool {
	solar := calendar.NewSolarFromDate(t)
	holiday := HolidayUtil.GetHolidayByYmd(solar.GetYear(), solar.GetMonth(), solar.GetDay())
	if holiday != nil {
		return holiday.IsWork()
	}
	weekday := t.Weekday()
	return weekday != time.Saturday && weekday != time.Sunday
}

// Country describes a calendar a site can select.
type Country struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	holidays []*cal.Holiday
}

var supportedCountries = []Country{
	{Code: "CN", Name: "China"},
	{Code: "US", Name: "United States", holidays: us.Holidays},
	{Code: "GB", Name: "United Kingdom", holidays: gb.Holidays},
	{Code: "DE", Name: "Germany", holidays: de.Holidays},
	{Code: "FR", Name: "France", holidays: fr.Holidays},
	{Code: "JP", Name: "Japan", holidays: jp.Holidays},
	{Code: "AU", Name: "Australia", holidays: au.HolidaysNSW},
	{Code: "CA", Name: "Canada", holidays: ca.Holidays},
	{Code: "NZ", Name: "New Zealand", holidays: nz.Holidays},
	{Code: "IT", Name: "Italy", holidays: it.Holidays},
	{Code: "ES", Name: "Spain", holidays: es.Holidays},
	{Code: "NL", Name: "Netherlands", holidays: nl.Holidays},
	{Code: "BE", Name: "Belgium", holidays: be.Holidays},
	{Code: "AT", Name: "Austria", holidays: at.Holidays},
	{Code: "CH", Name: "Switzerland", holidays: ch.Holidays},
	{Code: "SE", Name: "Sweden", holidays: se.Holidays},
	{Code: "NO", Name: "Norway", holidays: no.Holidays},
	{Code: "DK", Name: "Denmark", holidays: dk.Holidays},
	{Code: "FI", Name: "Finland", holidays: fi.Holidays},
	{Code: "PL", Name: "Poland", holidays: pl.Holidays},
	{Code: "PT", Name: "Portugal", holidays: pt.Holidays},
	{Code: "IE", Name: "Ireland", holidays: ie.Holidays},
	{Code: "BR", Name: "Brazil", holidays: br.Holidays},
	{Code: CountryNone, Name: "Weekends only"},
}

// SupportedCountries lists the selectable calendar codes.
func SupportedCountries() []Country {
	out := make([]Country, len(supportedCountries))
	copy(out, supportedCountries)
	return out
}

// IsSupportedCountry reports whether code names a known calendar.
func IsSupportedCountry(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range supportedCountries {
		if c.Code == code {
			return true
		}
	}
	return false
}
