package nodes

import "github.com/copperd/piper/piper"

// RegisterBuiltins registers every built-in node type this package
// provides except ExtractTags/StripTags, which need a caller-supplied
// TagDecoder and are registered separately via RegisterTagNodes.
func RegisterBuiltins(d *piper.Dispatcher) error {
	factories := map[string]piper.NodeFactory{
		"Constant":  &constantFactory{},
		"Hash":      &hashFactory{},
		"AddItem":   &addItemFactory{},
		"FindItem":  &findItemFactory{},
		"WriteBlob": &objectStoreWriterFactory{},
	}
	for name, f := range factories {
		if err := d.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

// RegisterTagNodes registers an ExtractTags/StripTags pair under
// nodeType-prefixed names (e.g. "ExtractTags.FLAC", "StripTags.FLAC") for
// one format's decoder.
func RegisterTagNodes(d *piper.Dispatcher, format string, decoder TagDecoder, mime string) error {
	if err := d.Register("ExtractTags."+format, NewExtractTagsFactory(decoder, mime)); err != nil {
		return err
	}
	return d.Register("StripTags."+format, NewStripTagsFactory(decoder, mime))
}
