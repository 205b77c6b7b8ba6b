package domain

import "testing"

func TestMemoryTextWording(t *testing.T) {
	p := &Persona{
		ID:         "boston_student",
		Name:       "Ana",
		AgeRange:   "18-24",
		Occupation: "graduate student",
		Location:   Location{City: "Boston", Region: "MA"},
		Goals:      []string{"find affordable study spots", "network with local startups"},
		PainPoints: []string{"limited budget", "no car"},
		Behavior:   "Searches on her phone between classes.",
	}

	want := "My name is Ana. I am 18-24 and work as a graduate student in Boston, MA. " +
		"My main goals are: find affordable study spots, network with local startups. " +
		"My pain points include: limited budget, no car. " +
		"I typically searches on her phone between classes."

	if got := p.MemoryText(); got != want {
		t.Fatalf("unexpected memory text:\n got: %s\nwant: %s", got, want)
	}

	// Must be deterministic: the injection protocol depends on it.
	if p.MemoryText() != p.MemoryText() {
		t.Fatal("memory text not deterministic")
	}
}

func TestLocationStringSkipsEmptyParts(t *testing.T) {
	cases := []struct {
		loc  Location
		want string
	}{
		{Location{City: "Boston", Region: "MA"}, "Boston, MA"},
		{Location{City: "Berlin", Region: "", Country: "Germany"}, "Berlin, Germany"},
		{Location{City: "Seattle"}, "Seattle"},
		{Location{}, ""},
	}

	for _, tc := range cases {
		if got := tc.loc.String(); got != tc.want {
			t.Fatalf("Location%+v = %q, want %q", tc.loc, got, tc.want)
		}
	}
}

func TestPromptCategoryValidation(t *testing.T) {
	for _, valid := range []PromptCategory{CategoryInformational, CategoryTransactional, CategoryComparison} {
		if !valid.IsValid() {
			t.Fatalf("expected %s to be valid", valid)
		}
	}
	if PromptCategory("navigational").IsValid() {
		t.Fatal("unexpected category accepted")
	}
}
