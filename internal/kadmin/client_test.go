package kadmin

import (
	"bufio"
	"strings"
	"testing"
)

func TestClient_Expect(t *testing.T) {
	c := New("admin/admin", "/etc/krb5.keytab", nil)

	r := bufio.NewReaderSize(strings.NewReader("Enter password for principal \"alovelace\": "), readSize)
	if err := c.expect(r, "Enter password for principal "); err != nil {
		t.Fatalf("expect() error: %v", err)
	}
}

func TestClient_Expect_Mismatch(t *testing.T) {
	c := New("admin/admin", "/etc/krb5.keytab", nil)

	r := bufio.NewReaderSize(strings.NewReader("kadmin: Principal does not exist"), readSize)
	if err := c.expect(r, "Enter password for principal "); err == nil {
		t.Fatal("expected error on prompt mismatch")
	}
}
