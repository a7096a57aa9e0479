package codec

import (
	"errors"
	"testing"
)

func TestDecodeCompactSize(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    uint64
		wantLen int
		wantErr bool
	}{
		{name: "single byte", in: []byte{0x2a}, want: 42, wantLen: 1},
		{name: "single byte max", in: []byte{0xfc}, want: 0xfc, wantLen: 1},
		{name: "uint16 form", in: []byte{0xfd, 0xfd, 0x00}, want: 0xfd, wantLen: 3},
		{name: "uint16 max", in: []byte{0xfd, 0xff, 0xff}, want: 0xffff, wantLen: 3},
		{name: "uint32 form", in: []byte{0xfe, 0x00, 0x00, 0x01, 0x00}, want: 0x10000, wantLen: 5},
		{name: "uint64 form", in: []byte{0xff, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, want: 0x100000000, wantLen: 9},
		{name: "empty input", in: nil, wantErr: true},
		{name: "truncated uint16", in: []byte{0xfd, 0x01}, wantErr: true},
		{name: "truncated uint32", in: []byte{0xfe, 0x01, 0x02, 0x03}, wantErr: true},
		{name: "truncated uint64", in: []byte{0xff, 0x01}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := DecodeCompactSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeCompactSize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedRecord) {
					t.Fatalf("DecodeCompactSize() error = %v, want ErrMalformedRecord", err)
				}
				return
			}
			if got != tt.want || n != tt.wantLen {
				t.Fatalf("DecodeCompactSize() = (%d, %d), want (%d, %d)", got, n, tt.want, tt.wantLen)
			}
		})
	}
}
