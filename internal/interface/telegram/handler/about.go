package handler

const aboutText = "<b>🤖 О боте «Эко-Трекер»</b>\n\n" +
	"Этот бот создан, чтобы помочь вам легко и играючи внедрить в свою жизнь " +
	"экологичные привычки.\n\n" +
	"<b>Как это работает?</b>\n" +
	"1. Берите <b>новое задание</b>.\n" +
	"2. Отмечайте его <b>выполнение</b> и получайте очки.\n" +
	"3. Повышайте свой <b>уровень</b> и отслеживайте <b>прогресс</b>.\n" +
	"4. Читайте <b>эко-советы</b>, чтобы узнать больше нового.\n\n" +
	"Даже маленькие шаги ведут к большим переменам! 💚"
