package form

import (
	"errors"
	"testing"
)

func ptr[T any](v T) *T { return &v }

// requiredFields builds one required field of every answerable kind.
func requiredFields() []Field {
	var fs []Field
	for _, k := range append(Kinds(), KindDimensions, KindFramesPlan) {
		f, _ := NewField(k)
		f.ID = string(k)
		f.Required = true
		f.Position = len(fs)
		fs = append(fs, f)
	}
	return fs
}

func minimalAnswer(k Kind) Answer {
	switch TagFor(k) {
	case TagText:
		return TextAnswer{Value: "x"}
	case TagOptions:
		return OptionsAnswer{Values: []string{"option_1"}}
	case TagNumber:
		return NumberAnswer{Value: ptr(0.0)}
	case TagDate:
		return DateAnswer{Value: "2024-01-01"}
	case TagFile:
		return FileAnswer{URL: "https://cdn.example.com/a.pdf"}
	case TagBoolean:
		return BooleanAnswer{Value: ptr(false)}
	case TagScale:
		return ScaleAnswer{Value: ptr(0)}
	case TagAddress:
		return AddressAnswer{Street: "1 Main St", City: "Leeds"}
	case TagDimensions:
		return DimensionsAnswer{Width: ptr(1.0), Height: ptr(2.0)}
	case TagFrames:
		return FramesAnswer{Frames: []FrameMeasurement{{Width: 1, Height: 1}}}
	}
	return nil
}

func TestValidate_RequiredEmptyFails(t *testing.T) {
	s := NewState(requiredFields())
	errs := s.Validate()
	for i := 0; i < s.Len(); i++ {
		f := s.Field(i)
		_, failed := errs[i]
		if f.Kind == KindStatement {
			if failed {
				t.Fatalf("statement must never fail validation")
			}
			continue
		}
		if !failed {
			t.Fatalf("required empty %s should fail", f.Kind)
		}
	}
}

func TestValidate_MinimalAnswersPass(t *testing.T) {
	s := NewState(requiredFields())
	for i := 0; i < s.Len(); i++ {
		a := minimalAnswer(s.Field(i).Kind)
		if a == nil {
			continue
		}
		if err := s.OnChange(i, a); err != nil {
			t.Fatalf("OnChange(%d): %v", i, err)
		}
	}
	if errs := s.Validate(); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidate_PendingFileSatisfiesRequired(t *testing.T) {
	f, _ := NewField(KindFileUpload)
	f.Required = true
	if msg := ValidateField(f, FileAnswer{Pending: &PendingFile{Name: "a.png", Size: 10}}); msg != "" {
		t.Fatalf("pending binary should satisfy required, got %q", msg)
	}
}

func TestValidate_AddressNeedsStreetAndCity(t *testing.T) {
	f, _ := NewField(KindAddress)
	f.Required = true
	if msg := ValidateField(f, AddressAnswer{Street: "1 Main St", Postcode: "LS1"}); msg != MsgAddressRequired {
		t.Fatalf("missing city: got %q", msg)
	}
	if msg := ValidateField(f, AddressAnswer{City: "Leeds"}); msg != MsgAddressRequired {
		t.Fatalf("missing street: got %q", msg)
	}
}

func TestValidate_WhitespaceTextIsEmpty(t *testing.T) {
	f := Field{Kind: KindLongText, Required: true}
	if ValidateField(f, TextAnswer{Value: "  \n\t"}) != MsgRequired {
		t.Fatalf("whitespace-only text must fail")
	}
}

func TestValidate_OptionalFieldsNeverFail(t *testing.T) {
	fs := requiredFields()
	for i := range fs {
		fs[i].Required = false
	}
	if errs := NewState(fs).Validate(); len(errs) != 0 {
		t.Fatalf("optional empty fields should pass, got %v", errs)
	}
}

func TestOnChange_Rejections(t *testing.T) {
	s := NewState([]Field{
		{ID: "r", Kind: KindRating, Position: 0},
		{ID: "st", Kind: KindStatement, Position: 1},
	})
	if err := s.OnChange(5, ScaleAnswer{}); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := s.OnChange(-1, ScaleAnswer{}); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := s.OnChange(0, TextAnswer{Value: "5"}); !errors.Is(err, ErrTagMismatch) {
		t.Fatalf("expected ErrTagMismatch, got %v", err)
	}
	if err := s.OnChange(1, TextAnswer{Value: "x"}); !errors.Is(err, ErrTagMismatch) {
		t.Fatalf("statement accepts no answer, got %v", err)
	}
	if err := s.OnChange(0, ScaleAnswer{Value: ptr(3)}); err != nil {
		t.Fatalf("valid change rejected: %v", err)
	}
	if err := s.OnChange(0, nil); err != nil {
		t.Fatalf("reset rejected: %v", err)
	}
	if !IsBlank(s.Answer(0)) {
		t.Fatalf("reset should leave a blank answer")
	}
}

func TestNewState_OrdersByPosition(t *testing.T) {
	s := NewState([]Field{
		{ID: "b", Kind: KindEmail, Position: 1, Required: true},
		{ID: "a", Kind: KindShortText, Position: 0},
	})
	if s.Field(0).ID != "a" || s.Field(1).ID != "b" {
		t.Fatalf("fields not ordered by position")
	}
	idx, ok := FirstInvalid(s.Validate())
	if !ok || idx != 1 {
		t.Fatalf("FirstInvalid=%d,%v want 1,true", idx, ok)
	}
}

func TestFirstInvalid(t *testing.T) {
	if _, ok := FirstInvalid(nil); ok {
		t.Fatalf("empty map has no first invalid")
	}
	idx, ok := FirstInvalid(map[int]string{7: "a", 2: "b", 4: "c"})
	if !ok || idx != 2 {
		t.Fatalf("got %d,%v want 2,true", idx, ok)
	}
}

func TestRender_OptionsAndScale(t *testing.T) {
	f, _ := NewField(KindPictureChoice)
	f.Options[1].ImageURL = "https://img/2.png"
	r := Render(f, OptionsAnswer{Values: []string{"option_2"}})
	if len(r.Options) != 2 || r.Options[0].Selected || !r.Options[1].Selected {
		t.Fatalf("selection flags wrong: %+v", r.Options)
	}
	if r.Options[1].ImageURL == "" || r.Category != CategoryChoice {
		t.Fatalf("render lost data: %+v", r)
	}

	nps, _ := NewField(KindNPS)
	r = Render(nps, ScaleAnswer{Value: ptr(9)})
	if *r.ScaleMin != 0 || *r.ScaleMax != 10 || r.Value != "9" {
		t.Fatalf("scale render wrong: %+v", r)
	}

	// mismatched answer is not displayed
	r = Render(nps, TextAnswer{Value: "nine"})
	if r.Value != "" {
		t.Fatalf("mismatched answer displayed: %q", r.Value)
	}
}

func TestDateAnswer_BlankMatchesRequiredCheck(t *testing.T) {
	s := NewState([]Field{{ID: "d", Kind: KindDate, Position: 0, Required: true}})
	if err := s.OnChange(0, DateAnswer{Value: "   "}); err != nil {
		t.Fatalf("OnChange: %v", err)
	}
	if errs := s.Validate(); len(errs) != 0 {
		t.Fatalf("whitespace date should satisfy required: %v", errs)
	}
	if IsBlank(s.Answer(0)) {
		t.Fatalf("an answer that passed the required check must not be blank")
	}
	if !IsBlank(DateAnswer{}) {
		t.Fatalf("empty date should be blank")
	}
}
