package validator

import "testing"

type testPayload struct {
	ID    string `json:"id" validate:"required"`
	Hash  string `json:"hash" validate:"omitempty,contenthash"`
	Price string `json:"price" validate:"decimal"`
	Stock int    `json:"stock" validate:"gte=0"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		ID:    "p1",
		Hash:  "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
		Price: "1500000000000000000",
		Stock: 3,
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		ID:    "",
		Hash:  "bad/hash",
		Price: "ten",
		Stock: -1,
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 4 {
		t.Fatalf("expected 4 validation errors, got %d", len(vErrs))
	}

	foundHash := false
	for _, v := range vErrs {
		if v.Field == "hash" && v.Tag == "contenthash" {
			foundHash = true
		}
	}

	if !foundHash {
		t.Fatal("expected hash field to be present in validation errors")
	}
}

func TestIsContentHash(t *testing.T) {
	cases := map[string]bool{
		"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG": true,
		"0.0.4512":    true,
		"":            false,
		"has space":   false,
		"../etc":      false,
		"hash?query":  false,
		"tab\tinside": false,
	}
	for value, want := range cases {
		if got := IsContentHash(value); got != want {
			t.Fatalf("IsContentHash(%q) = %v, want %v", value, got, want)
		}
	}
}
