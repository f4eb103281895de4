package validator

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	zhTranslations "github.com/go-playground/validator/v10/translations/zh"
)

// gin 默认 validator 的翻译替换，错误提示按配置语言返回

var (
	once  sync.Once
	trans ut.Translator
)

// LazyInitGinValidator 初始化 gin 的参数校验器翻译，language: zh / en
func LazyInitGinValidator(language string) {
	once.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		zhT := zh.New()
		enT := en.New()
		uni := ut.New(enT, zhT, enT)

		var found bool
		trans, found = uni.GetTranslator(language)
		if !found {
			trans, _ = uni.GetTranslator("en")
		}

		switch language {
		case "zh":
			_ = zhTranslations.RegisterDefaultTranslations(v, trans)
		default:
			_ = enTranslations.RegisterDefaultTranslations(v, trans)
		}
	})
}

// Translate 把校验错误翻译成可读文案
func Translate(err error) string {
	if err == nil {
		return ""
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok || trans == nil {
		return err.Error()
	}
	for _, e := range errs {
		return e.Translate(trans)
	}
	return err.Error()
}
