package names

import (
	"errors"
	"testing"
	"time"

	"github.com/chime-experiment/dataindex"
)

// TestParseAcqName_Example checks the documented example acquisition.
func TestParseAcqName_Example(t *testing.T) {
	got, err := ParseAcqName("20190304T175519Z_stone_corr")
	if err != nil {
		t.Fatalf("ParseAcqName unexpected error: %v", err)
	}

	want := time.Date(2019, 3, 4, 17, 55, 19, 0, time.UTC)
	if !got.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", got.Time, want)
	}
	if got.Time.Location() != time.UTC {
		t.Errorf("Time location = %v, want UTC", got.Time.Location())
	}
	if got.Inst != "stone" {
		t.Errorf("Inst = %q, want %q", got.Inst, "stone")
	}
	if got.Type != "corr" {
		t.Errorf("Type = %q, want %q", got.Type, "corr")
	}
}

// TestParseAcqName_RoundTrip verifies format(parse(N)) == N for valid names.
func TestParseAcqName_RoundTrip(t *testing.T) {
	valid := []string{
		"20190304T175519Z_stone_corr",
		"20140101T000000Z_pathfinder_hk",
		"20231231T235959Z_chime_hfb",
		"20200229T120000Z_gong2_rawadc",
		"20180611T000000Z_X_weather",
	}

	for _, name := range valid {
		parsed, err := ParseAcqName(name)
		if err != nil {
			t.Errorf("ParseAcqName(%q) unexpected error: %v", name, err)
			continue
		}
		if got := FormatAcqName(parsed); got != name {
			t.Errorf("FormatAcqName(ParseAcqName(%q)) = %q", name, got)
		}
		again, err := ParseAcqName(FormatAcqName(parsed))
		if err != nil || again != parsed {
			t.Errorf("second parse of %q = %+v, %v; want %+v", name, again, err, parsed)
		}
	}
}

// TestParseAcqName_Rejects verifies malformed names fail with a ParseError
// and no partially filled result.
func TestParseAcqName_Rejects(t *testing.T) {
	invalid := []string{
		"",
		"20190304T175519Z_stone",
		"20190304T175519Z__corr",
		"20190304T175519Z_stone_",
		"20190304T175519_stone_corr",
		"20190304175519Z_stone_corr",
		"20190304T175519Z_stone_corr_extra",
		"20190304T175519Z_stone_corr2",
		"20190304T175519Z_st-one_corr",
		"x20190304T175519Z_stone_corr",
		"20190304T175519Z_stone_corr ",
		"20190230T175519Z_stone_corr", // no Feb 30th
		"20190304T245519Z_stone_corr", // hour 24
	}

	for _, name := range invalid {
		got, err := ParseAcqName(name)
		if err == nil {
			t.Errorf("ParseAcqName(%q) = %+v, expected error", name, got)
			continue
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("ParseAcqName(%q) error %T is not *ParseError", name, err)
		}
		if got != (dataindex.AcqName{}) {
			t.Errorf("ParseAcqName(%q) returned partial result %+v", name, got)
		}
	}
}

// TestParseCorrFileName checks the documented correlator example and round trip.
func TestParseCorrFileName(t *testing.T) {
	got, err := ParseCorrFileName("00012345_0000.h5")
	if err != nil {
		t.Fatalf("ParseCorrFileName unexpected error: %v", err)
	}
	if got.Chunk != 12345 || got.Freq != 0 {
		t.Errorf("got %+v, want {Chunk:12345 Freq:0}", got)
	}
	if got.String() != "00012345_0000.h5" {
		t.Errorf("String() = %q", got.String())
	}

	got, err = ParseCorrFileName("99999999_1023.h5")
	if err != nil || got.Chunk != 99999999 || got.Freq != 1023 {
		t.Errorf("ParseCorrFileName(max) = %+v, %v", got, err)
	}
}

func TestParseCorrFileName_Rejects(t *testing.T) {
	for _, name := range []string{
		"",
		"0001234_0000.h5",
		"00012345_000.h5",
		"00012345_0000.h5.bak",
		"00012345-0000.h5",
		"00012345_0000.hdf5",
		"hfb_00012345_0000.h5",
	} {
		if got, err := ParseCorrFileName(name); err == nil {
			t.Errorf("ParseCorrFileName(%q) = %+v, expected error", name, got)
		}
	}
}

func TestParseHFBFileName(t *testing.T) {
	got, err := ParseHFBFileName("hfb_00000768_0012.h5")
	if err != nil {
		t.Fatalf("ParseHFBFileName unexpected error: %v", err)
	}
	if got.Chunk != 768 || got.Freq != 12 {
		t.Errorf("got %+v", got)
	}
	if got.String() != "hfb_00000768_0012.h5" {
		t.Errorf("String() = %q", got.String())
	}
	if _, err := ParseHFBFileName("00000768_0012.h5"); err == nil {
		t.Error("ParseHFBFileName accepted a correlator name")
	}
}

func TestParseHKFileName(t *testing.T) {
	got, err := ParseHKFileName("mezz_00000042.h5")
	if err != nil {
		t.Fatalf("ParseHKFileName unexpected error: %v", err)
	}
	if got.Atmel != "mezz" || got.Chunk != 42 {
		t.Errorf("got %+v", got)
	}
	if got.String() != "mezz_00000042.h5" {
		t.Errorf("String() = %q", got.String())
	}

	for _, name := range []string{"_00000042.h5", "mezz1_00000042.h5", "mezz_0000042.h5", "hkp_prom_20190101.h5"} {
		if got, err := ParseHKFileName(name); err == nil {
			t.Errorf("ParseHKFileName(%q) = %+v, expected error", name, got)
		}
	}
}

func TestParseWeatherFileName(t *testing.T) {
	got, err := ParseWeatherFileName("20190304.h5")
	if err != nil {
		t.Fatalf("ParseWeatherFileName unexpected error: %v", err)
	}
	if got.Date != "20190304" {
		t.Errorf("Date = %q", got.Date)
	}
	if got.String() != "20190304.h5" {
		t.Errorf("String() = %q", got.String())
	}
	if want := time.Date(2019, 3, 4, 0, 0, 0, 0, time.UTC); !got.Start().Equal(want) {
		t.Errorf("Start() = %v, want %v", got.Start(), want)
	}
	if want := time.Date(2019, 3, 5, 0, 0, 0, 0, time.UTC); !got.Finish().Equal(want) {
		t.Errorf("Finish() = %v, want %v", got.Finish(), want)
	}

	for _, name := range []string{
		"19990304.h5", // outside 2010-2029
		"20300304.h5",
		"20191939.h5", // matches the digit classes but is not a date
		"20190230.h5",
		"2019030.h5",
		"20190304.h5.gz",
	} {
		if got, err := ParseWeatherFileName(name); err == nil {
			t.Errorf("ParseWeatherFileName(%q) = %+v, expected error", name, got)
		}
	}
}

func TestParseMiscFileName(t *testing.T) {
	cases := []struct {
		name string
		want MiscFileName
	}{
		{"00000001_holography.misc.tar.gz", MiscFileName{Serial: 1, DataType: "holography", Compression: ".gz"}},
		{"12345678_sun_+track-2.misc.tar.xz", MiscFileName{Serial: 12345678, DataType: "sun_+track-2", Compression: ".xz"}},
		{"00000010_X.misc.tar.bz2", MiscFileName{Serial: 10, DataType: "X", Compression: ".bz2"}},
	}
	for _, tc := range cases {
		got, err := ParseMiscFileName(tc.name)
		if err != nil {
			t.Errorf("ParseMiscFileName(%q) unexpected error: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseMiscFileName(%q) = %+v, want %+v", tc.name, got, tc.want)
		}
		if got.String() != tc.name {
			t.Errorf("round trip of %q = %q", tc.name, got.String())
		}
	}

	for _, name := range []string{"00000001_holography.misc.tar", "00000001_1holo.misc.tar.gz", "00000001_holo.tar.gz"} {
		if _, err := ParseMiscFileName(name); err == nil {
			t.Errorf("ParseMiscFileName(%q) expected error", name)
		}
	}
}

// TestParseError_Message makes sure the error names both the grammar and the input.
func TestParseError_Message(t *testing.T) {
	_, err := ParseCorrFileName("nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if got, want := err.Error(), `bad correlator file name format for "nope"`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
