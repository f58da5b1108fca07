package wire

import "testing"

func TestSICBRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		s    SICB
	}{
		{
			name: "plain comm, no address, short APDU",
			s: SICB{
				Cmd:     CommandComm,
				Queue:   QueueNonPriority,
				Service: ServiceACKD,
				APDU:    []byte{0x61, 0x00},
			},
		},
		{
			name: "priority request with classic address",
			s: SICB{
				Cmd:      CommandComm,
				Queue:    QueuePriority,
				Service:  ServiceRequest,
				Auth:     true,
				Priority: true,
				Expanded: true,
				Response: true,
				Tag:      5,
				Address:  &AddressBlock{Raw: [12]byte{1, 2, 3, 4, 5}},
				APDU:     []byte{0x23, 0xAA, 0xBB},
			},
		},
		{
			name: "extended length escape",
			s: SICB{
				Cmd:     CommandComm,
				Queue:   QueueNonPriority,
				Service: ServiceUnackd,
				APDU:    make([]byte, MaxAPDU),
			},
		},
		{
			name: "empty APDU",
			s: SICB{
				Cmd:   CommandNetMgmt,
				Queue: QueueLocal,
				APDU:  nil,
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			enc, err := tc.s.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary() error = %v", err)
			}

			got, n, err := Decode(enc)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if n != len(enc) {
				t.Errorf("Decode() consumed %d bytes, want %d", n, len(enc))
			}

			if got.Cmd != tc.s.Cmd {
				t.Errorf("Cmd = %v, want %v", got.Cmd, tc.s.Cmd)
			}
			if got.Queue != tc.s.Queue || got.Service != tc.s.Service {
				t.Errorf("Queue/Service = %v/%v, want %v/%v", got.Queue, got.Service, tc.s.Queue, tc.s.Service)
			}
			if got.Auth != tc.s.Auth || got.Priority != tc.s.Priority || got.Response != tc.s.Response || got.Expanded != tc.s.Expanded {
				t.Errorf("flags mismatch: got %+v want %+v", got, tc.s)
			}
			if len(got.APDU) != len(tc.s.APDU) {
				t.Fatalf("dlen = %d, want %d", len(got.APDU), len(tc.s.APDU))
			}
			for i := range got.APDU {
				if got.APDU[i] != tc.s.APDU[i] {
					t.Errorf("APDU[%d] = %x, want %x", i, got.APDU[i], tc.s.APDU[i])
				}
			}
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	t.Parallel()

	if _, _, err := Decode([]byte{0x12}); err == nil {
		t.Fatal("Decode() on 1-byte buffer should fail")
	}
	if _, _, err := Decode([]byte{0x12, 10, 0, 0}); err == nil {
		t.Fatal("Decode() with body shorter than declared length should fail")
	}
}

func TestBufferByteRoundTrip(t *testing.T) {
	t.Parallel()

	for _, c := range []BufferConfig{
		{Size: 20, Count: 0},
		{Size: 64, Count: 13},
		{Size: 255, Count: 0, Large: true},
	} {
		b := EncodeBufferByte(c)
		got := DecodeBufferByte(b)
		if got.Large != c.Large {
			t.Errorf("Large = %v, want %v", got.Large, c.Large)
		}
		if !c.Large && got.Count != c.Count {
			t.Errorf("Count = %d, want %d", got.Count, c.Count)
		}
		if got.Size < c.Size {
			t.Errorf("Size = %d, want >= %d", got.Size, c.Size)
		}
	}
}
