package security

import "regexp"

// Mask replaces credentials in anything that is printed or logged.
const Mask = "******"

// credentialFlags are jarsigner options whose following argument is a
// secret.
var credentialFlags = map[string]bool{
	"-storepass": true,
	"-keypass":   true,
}

var credentialPattern = regexp.MustCompile(`(-storepass|-keypass)(\s+)\S+`)

// RedactArgs returns a copy of args with the value following each
// credential flag replaced by Mask.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if credentialFlags[out[i]] {
			out[i+1] = Mask
			i++
		}
	}
	return out
}

// RedactString masks credential flag values inside a formatted command line.
func RedactString(s string) string {
	return credentialPattern.ReplaceAllString(s, "${1}${2}"+Mask)
}
