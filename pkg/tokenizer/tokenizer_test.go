package tokenizer_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"learn-go/pkg/tokenizer"
)

var _ = Describe("Tokenizer", func() {
	It("counts BPE tokens for a known model", func() {
		count, err := tokenizer.ForModel("text-embedding-ada-002")
		Expect(err).NotTo(HaveOccurred())
		Expect(count("hello world")).To(Equal(2))
		Expect(count("")).To(Equal(0))
	})

	It("rejects unknown models", func() {
		_, err := tokenizer.ForModel("no-such-model")
		Expect(err).To(HaveOccurred())
	})

	It("counts runes as a fallback", func() {
		Expect(tokenizer.Runes("你好 go")).To(Equal(5))
	})
})
